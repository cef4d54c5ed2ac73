package fallback_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repscore/internal/adapters/fallback"
	"github.com/okian/repscore/internal/domain/lifecycle"
	"github.com/okian/repscore/internal/domain/model"
)

func newRecord(kind string) model.Assessment {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.Assessment{
		SportCategory:  "athletics",
		AssessmentType: kind,
		SubmissionDate: now,
		Status:         model.StatusProcessing,
		AIAnalysis:     lifecycle.Placeholder(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestFallbackStore(t *testing.T) {
	Convey("Given a fallback store in a temp dir", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := fallback.New(dir, "http://localhost:5000/")
		So(err, ShouldBeNil)

		Convey("When the file does not exist yet", func() {
			list, err := s.List(ctx)
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)
		})

		Convey("When a record is created", func() {
			a, err := s.Create(ctx, newRecord(model.TestSitUps))
			So(err, ShouldBeNil)

			Convey("Then it should carry a local_ id and fallback backend", func() {
				So(strings.HasPrefix(a.ID, model.FallbackPrefix), ShouldBeTrue)
				So(a.Backend, ShouldEqual, model.BackendFallback)
				So(model.ParseRef(a.ID).Backend, ShouldEqual, model.BackendFallback)
			})

			Convey("Then it should survive a reopen", func() {
				again, err := fallback.New(dir, "http://localhost:5000")
				So(err, ShouldBeNil)
				got, err := again.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.AssessmentType, ShouldEqual, model.TestSitUps)
				So(got.AIAnalysis.Notes, ShouldEqual, lifecycle.PlaceholderNotes)
			})

			Convey("Then an update should apply the patch", func() {
				score := 80.0
				got, err := s.Update(ctx, a.ID, lifecycle.Evaluated(model.Evaluation{Score: &score}, time.Now()))
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusEvaluated)
				So(*got.Evaluation.Score, ShouldEqual, 80.0)
				So(got.AIAnalysis.Notes, ShouldEqual, lifecycle.PlaceholderNotes)
			})

			Convey("Then no temp files should be left behind", func() {
				entries, err := os.ReadDir(dir)
				So(err, ShouldBeNil)
				for _, e := range entries {
					So(strings.HasSuffix(e.Name(), ".tmp"), ShouldBeFalse)
				}
			})
		})

		Convey("When an unknown id is requested", func() {
			_, err := s.Get(ctx, "local_missing")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

			_, err = s.Update(ctx, "local_missing", lifecycle.Restart(time.Now()))
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the file is corrupt", func() {
			So(os.WriteFile(filepath.Join(dir, "assessments.json"), []byte("{not json"), 0o644), ShouldBeNil)
			_, err := s.List(ctx)
			So(errors.Is(err, fallback.ErrCorrupt), ShouldBeTrue)
			So(errors.Is(err, model.ErrStorage), ShouldBeTrue)
		})

		Convey("When different records are updated concurrently", func() {
			const n = 20
			ids := make([]string, n)
			for i := range ids {
				a, err := s.Create(ctx, newRecord(model.TestPushUps))
				So(err, ShouldBeNil)
				ids[i] = a.ID
			}

			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i, id := range ids {
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					a := model.AIAnalysis{RepCount: i, TechniqueScore: 0.5, Notes: fmt.Sprintf("run %d", i)}
					_, err := s.Update(ctx, id, lifecycle.Analyzed(model.StatusPending, a, time.Now()))
					errs <- err
				}(i, id)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			Convey("Then no update should be lost", func() {
				list, err := s.List(ctx)
				So(err, ShouldBeNil)
				So(len(list), ShouldEqual, n)
				for i, id := range ids {
					got, err := s.Get(ctx, id)
					So(err, ShouldBeNil)
					So(got.Status, ShouldEqual, model.StatusPending)
					So(got.AIAnalysis.RepCount, ShouldEqual, i)
				}
			})
		})

		Convey("When a video is saved", func() {
			path, url, n, err := s.SaveVideo("../../escape.mp4", strings.NewReader("video-bytes"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, int64(11))
			So(path, ShouldEqual, filepath.Join(s.VideoDir(), "escape.mp4"))
			So(url, ShouldEqual, "http://localhost:5000/uploads/escape.mp4")

			data, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "video-bytes")
		})
	})
}
