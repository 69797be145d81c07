package pipeline_test

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"

    "github.com/odomlab/odom-data-processing/internal/workers/pipeline"
)

func TestWatchRunsUntilCancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    passes := 0
    done := make(chan struct{})
    go func() {
        defer close(done)
        pipeline.Watch(ctx, time.Millisecond, func(context.Context) error {
            passes++
            if passes == 3 { cancel() }
            if passes == 2 { return errors.New("lims down") }
            return nil
        }, nil)
    }()
    select {
    case <-done:
    case <-time.After(5 * time.Second):
        t.Fatal("watch did not stop")
    }
    assert.Equal(t, 3, passes)
}
