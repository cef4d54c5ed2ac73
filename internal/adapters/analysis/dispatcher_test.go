package analysis_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repscore/internal/adapters/analysis"
	"github.com/okian/repscore/internal/domain/model"
)

// worker writes a shell script acting as the analysis worker.
func worker(t *testing.T, body string) analysis.Config {
	t.Helper()
	p := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return analysis.Config{Command: "/bin/sh", Args: []string{p}, Timeout: 5 * time.Second}
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	Convey("Given a worker that prints a result", t, func() {
		d := analysis.New(worker(t, `echo '{"rep_count": 12, "notes": "ignored"}'`))
		a := d.Analyze(ctx, "/tmp/v.mp4", model.TestSitUps)

		So(a.Failed(), ShouldBeFalse)
		So(a.RepCount, ShouldEqual, 12)
		So(a.TechniqueScore, ShouldAlmostEqual, 0.8, 1e-9)
		So(a.Notes, ShouldEqual, "AI detected 12 sit-ups repetitions. Excellent repetition count. Strong performance detected.")
		So(a.AdditionalMetrics, ShouldBeNil)
		So(a.ProcessingTime, ShouldBeGreaterThan, 0)
	})

	Convey("Given a worker that logs before its result", t, func() {
		d := analysis.New(worker(t, `echo "loading model"
echo "frame 1/300"
echo '{"rep_count": 3, "up_threshold": 160, "down_threshold": 90.5, "warmup_frames": 30}'`))
		a := d.Analyze(ctx, "/tmp/v.mp4", model.TestPushUps)

		So(a.Failed(), ShouldBeFalse)
		So(a.RepCount, ShouldEqual, 3)
		So(a.TechniqueScore, ShouldAlmostEqual, 0.48, 1e-9)
		So(a.Notes, ShouldEqual, "AI detected 3 push-ups repetitions. Low repetition count detected. Consider improving technique or duration. Thresholds - Up: 160.0, Down: 90.5 Warmup: 30 frames")
	})

	Convey("Given a vertical jump worker", t, func() {
		d := analysis.New(worker(t, `[ "$2" = "vertical-jump" ] || exit 9
[ "$1" = "/tmp/jump.mp4" ] || exit 8
echo '{"rep_count": 6, "jump_heights": [40, 42], "average_height": 41}'`))
		a := d.Analyze(ctx, "/tmp/jump.mp4", model.TestVerticalJump)

		So(a.Failed(), ShouldBeFalse)
		So(a.AdditionalMetrics, ShouldNotBeNil)
		So(a.AdditionalMetrics.JumpHeights, ShouldResemble, []float64{40, 42})
		So(a.AdditionalMetrics.AverageHeight, ShouldEqual, 41.0)
		So(a.TechniqueScore, ShouldAlmostEqual, 0.6, 1e-9)
		So(a.Notes, ShouldEqual, "AI detected 6 vertical jump repetitions. Good repetition count. Technique appears consistent. Average jump height: 41.0 pixels.")
	})

	Convey("Given a worker reporting zero repetitions", t, func() {
		d := analysis.New(worker(t, `echo '{"rep_count": 0}'`))
		a := d.Analyze(ctx, "/tmp/v.mp4", model.TestShuttleRun)

		So(a.Failed(), ShouldBeFalse)
		So(a.TechniqueScore, ShouldEqual, 0.1)
	})

	Convey("Given workers that fail", t, func() {
		cases := []struct {
			name string
			body string
			want string
		}{
			{"non-zero exit", `echo boom >&2; exit 3`, "worker exited with code 3: boom"},
			{"error on stdout", `echo '{"error": "Video file not found: x"}'; exit 1`, "Video file not found: x"},
			{"error with zero exit", `echo '{"error": "Unsupported assessment type"}'`, "Unsupported assessment type"},
			{"empty output", `true`, "worker returned empty output"},
			{"garbage output", `echo not-json`, "failed to parse worker output: not-json"},
			{"missing rep count", `echo '{"notes": "hi"}'`, "worker output has no rep_count"},
			{"negative rep count", `echo '{"rep_count": -2}'`, "worker reported negative rep_count -2"},
		}
		for _, c := range cases {
			Convey("When the worker has "+c.name, func() {
				a := analysis.New(worker(t, c.body)).Analyze(ctx, "/tmp/v.mp4", model.TestSitUps)

				So(a.Failed(), ShouldBeTrue)
				So(a.Error, ShouldEqual, c.want)
				So(a.RepCount, ShouldEqual, 0)
				So(a.TechniqueScore, ShouldEqual, 0.1)
				So(a.Notes, ShouldEqual, "AI analysis failed: "+c.want)
			})
		}
	})

	Convey("Given a worker that runs past the timeout", t, func() {
		cfg := worker(t, `exec sleep 10`)
		cfg.Timeout = 200 * time.Millisecond
		start := time.Now()
		a := analysis.New(cfg).Analyze(ctx, "/tmp/v.mp4", model.TestSitUps)

		So(a.Failed(), ShouldBeTrue)
		So(a.Error, ShouldEqual, "analysis timed out after 200ms")
		So(time.Since(start), ShouldBeLessThan, 5*time.Second)
	})

	Convey("Given a missing worker binary", t, func() {
		cfg := analysis.Config{Command: filepath.Join(t.TempDir(), "nope"), Timeout: time.Second}
		a := analysis.New(cfg).Analyze(ctx, "/tmp/v.mp4", model.TestSitUps)

		So(a.Failed(), ShouldBeTrue)
		So(a.TechniqueScore, ShouldEqual, 0.1)
	})

	Convey("Given an unsupported test type", t, func() {
		d := analysis.New(worker(t, `exit 1`))
		a := d.Analyze(ctx, "/tmp/v.mp4", model.TestSprint)

		So(analysis.Supports(model.TestSprint), ShouldBeFalse)
		So(a.Failed(), ShouldBeFalse)
		So(a.RepCount, ShouldEqual, 15)
		So(a.TechniqueScore, ShouldAlmostEqual, 0.7, 1e-9)
		So(a.ProcessingTime, ShouldEqual, 0.0)
		So(a.Notes, ShouldEqual, "Mock analysis for sprint. AI analysis not available for this exercise type.")
	})
}
