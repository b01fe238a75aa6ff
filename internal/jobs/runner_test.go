package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/queryvault/queryvault/internal/query"
	"github.com/queryvault/queryvault/internal/site"
)

func testRequest() Request {
	return Request{
		Parsed: query.Parse("SELECT 1", nil, query.Options{}),
		Site:   site.Site{ID: 1, Name: "testsite"},
		Title:  "test query",
	}
}

func TestSubmitCompletesInlineWhenFast(t *testing.T) {
	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		return &query.QueryResults{SiteID: 1}, nil
	}, Config{InlineWait: time.Second}, nil)

	status := runner.Submit(context.Background(), testRequest())
	if status.State != StateSuccess {
		t.Fatalf("State = %q, want %q", status.State, StateSuccess)
	}
	if status.JobID != "" {
		t.Fatalf("JobID = %q, want empty for inline completion", status.JobID)
	}
	if status.Results == nil || status.Results.SiteID != 1 {
		t.Fatalf("Results = %+v", status.Results)
	}
}

func TestSubmitGoesToBackgroundWhenSlow(t *testing.T) {
	release := make(chan struct{})
	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		<-release
		return &query.QueryResults{SiteID: 1}, nil
	}, Config{InlineWait: 20 * time.Millisecond}, nil)

	status := runner.Submit(context.Background(), testRequest())
	if status.State != StatePending {
		t.Fatalf("State = %q, want %q", status.State, StatePending)
	}
	if status.JobID == "" {
		t.Fatal("expected a job id for background execution")
	}

	pending, err := runner.Poll(status.JobID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if pending.State != StatePending {
		t.Fatalf("State = %q, want pending before release", pending.State)
	}

	close(release)
	terminal := waitForTerminal(t, runner, status.JobID)
	if terminal.State != StateSuccess {
		t.Fatalf("State = %q, want %q", terminal.State, StateSuccess)
	}
	if terminal.Request.Site.Name != "testsite" {
		t.Fatalf("Request.Site = %q", terminal.Request.Site.Name)
	}
}

func TestPollIsIdempotentAfterTerminalState(t *testing.T) {
	release := make(chan struct{})
	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		<-release
		return nil, errors.New("boom")
	}, Config{InlineWait: 10 * time.Millisecond, ReapGrace: time.Hour}, nil)

	status := runner.Submit(context.Background(), testRequest())
	close(release)

	first := waitForTerminal(t, runner, status.JobID)
	if first.State != StateFailure || first.Err == nil {
		t.Fatalf("first poll = %+v", first)
	}

	second, err := runner.Poll(status.JobID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if second.State != first.State || second.Err.Error() != first.Err.Error() {
		t.Fatalf("second poll differs: %+v vs %+v", second, first)
	}
}

func TestPollUnknownJobReturnsNotFound(t *testing.T) {
	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		return nil, nil
	}, Config{}, nil)

	if _, err := runner.Poll("d2b1c570-0000-4000-8000-000000000000"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Poll() error = %v, want ErrJobNotFound", err)
	}
}

func TestReapRemovesObservedTerminalJobs(t *testing.T) {
	now := time.Now().UTC()
	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		return &query.QueryResults{}, nil
	}, Config{InlineWait: time.Millisecond, ReapGrace: time.Millisecond, MaxAge: time.Hour}, nil)
	runner.Clock = func() time.Time { return now }

	// Force a background job by making execution wait on the clock.
	release := make(chan struct{})
	runner.Execute = func(context.Context, Request) (*query.QueryResults, error) {
		<-release
		return &query.QueryResults{}, nil
	}
	status := runner.Submit(context.Background(), testRequest())
	close(release)

	waitForTerminal(t, runner, status.JobID)

	now = now.Add(time.Second)
	reaped, tracked := runner.ReapOnce()
	if reaped != 1 || tracked != 0 {
		t.Fatalf("ReapOnce() = (%d, %d), want (1, 0)", reaped, tracked)
	}

	if _, err := runner.Poll(status.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Poll() after reap error = %v, want ErrJobNotFound", err)
	}
}

func TestReapRemovesAbandonedJobs(t *testing.T) {
	now := time.Now().UTC()
	block := make(chan struct{})
	defer close(block)

	runner := NewRunner(func(context.Context, Request) (*query.QueryResults, error) {
		<-block
		return nil, nil
	}, Config{InlineWait: time.Millisecond, MaxAge: time.Minute}, nil)
	runner.Clock = func() time.Time { return now }

	status := runner.Submit(context.Background(), testRequest())
	if status.State != StatePending {
		t.Fatalf("State = %q, want pending", status.State)
	}

	now = now.Add(2 * time.Minute)
	reaped, _ := runner.ReapOnce()
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if _, err := runner.Poll(status.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Poll() error = %v, want ErrJobNotFound", err)
	}
}

func waitForTerminal(t *testing.T, runner *Runner, jobID string) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := runner.Poll(jobID)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if status.State != StatePending {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return Status{}
}
