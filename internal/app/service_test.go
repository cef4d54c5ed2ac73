package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repscore/internal/adapters/analysis"
	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/docstore"
	"github.com/okian/repscore/internal/adapters/fallback"
	"github.com/okian/repscore/internal/adapters/gateway"
	"github.com/okian/repscore/internal/adapters/repository"
	service "github.com/okian/repscore/internal/app"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/types"
)

// stubAnalyzer returns a fixed result, optionally waiting on gate first.
type stubAnalyzer struct {
	mu     sync.Mutex
	result model.AIAnalysis
	gate   chan struct{}
	calls  int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, _, _ string) model.AIAnalysis {
	s.mu.Lock()
	s.calls++
	gate, res := s.gate, s.result
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return analysis.Failure(ctx.Err().Error())
		}
	}
	return res
}

func (s *stubAnalyzer) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

// flakyDocs is a document store whose writes can be switched off.
type flakyDocs struct {
	*docstore.Memory
	down atomic.Bool
}

func (f *flakyDocs) Create(ctx context.Context, collection string, doc any) (string, error) {
	if f.down.Load() {
		return "", errors.New("connection refused")
	}
	return f.Memory.Create(ctx, collection, doc)
}

type fixture struct {
	svc       *service.Service
	docs      *flakyDocs
	athletes  *repository.Athletes
	analyzer  *stubAnalyzer
	uploadDir string
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	root := t.TempDir()
	local, err := fallback.New(filepath.Join(root, "data"), "http://test")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		docs:      &flakyDocs{Memory: docstore.NewMemory()},
		analyzer:  &stubAnalyzer{result: model.AIAnalysis{RepCount: 12, TechniqueScore: 0.8, Notes: "AI detected 12 sit-ups repetitions."}},
		uploadDir: filepath.Join(root, "uploads"),
	}
	f.athletes = repository.NewAthletes(f.docs)
	gw := gateway.New(f.docs, blobstore.NewMemory("http://test"), local, gateway.WithUploadDir(f.uploadDir))
	f.svc = service.New(gw, f.analyzer, f.athletes, opts...)
	return f
}

func (f *fixture) submission(t *testing.T, name, testType, athleteID string) gateway.Submission {
	t.Helper()
	if err := os.MkdirAll(f.uploadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(f.uploadDir, name)
	body := []byte("fake video " + name)
	if err := os.WriteFile(p, body, 0o644); err != nil {
		t.Fatal(err)
	}
	return gateway.Submission{
		SportCategory:  "Athletics",
		AssessmentType: testType,
		AthleteID:      athleteID,
		Video:          gateway.UploadedVideo{FileName: name, MimeType: "video/mp4", Size: int64(len(body)), Path: p},
	}
}

// settle waits until the assessment has no analysis in flight.
func settle(ctx context.Context, svc *service.Service, id string) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !svc.Running(ctx, id) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		Convey("When getting stats before starting", func() {
			stats := f.svc.GetStats(ctx)
			So(stats["started"], ShouldEqual, false)
			So(stats["primaryHealthy"], ShouldEqual, true)
		})

		Convey("When starting and stopping", func() {
			So(f.svc.Start(ctx), ShouldBeNil)
			So(f.svc.Start(ctx), ShouldBeNil)
			So(f.svc.GetStats(ctx)["started"], ShouldEqual, true)

			f.svc.Stop()
			So(f.svc.GetStats(ctx)["started"], ShouldEqual, false)
		})

		Convey("When athletes already hold scores", func() {
			a, err := f.athletes.Register(ctx, model.Athlete{Name: "Mira", Email: "mira@example.com", Age: 16, State: "Goa", District: "North Goa"})
			So(err, ShouldBeNil)
			a.RecordBest(model.TestSitUps, 64)
			So(f.athletes.SaveScores(ctx, a), ShouldBeNil)
			_, err = f.athletes.Register(ctx, model.Athlete{Name: "Zero", Email: "zero@example.com", Age: 16, State: "Goa", District: "North Goa"})
			So(err, ShouldBeNil)

			So(f.svc.Start(ctx), ShouldBeNil)
			defer f.svc.Stop()

			Convey("Then the ranking should be rebuilt from the athletes with scores", func() {
				top, err := f.svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 1)
				So(top[0].AthleteID, ShouldEqual, a.ID)
				So(top[0].Score, ShouldEqual, 64.0)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.svc.Stop()

		Convey("When a valid video is submitted", func() {
			sub := f.submission(t, "run.mp4", model.TestSitUps, "")
			a, err := f.svc.Submit(ctx, sub)
			So(err, ShouldBeNil)

			Convey("Then it should return a processing primary record", func() {
				So(a.Status, ShouldEqual, model.StatusProcessing)
				So(a.Backend, ShouldEqual, model.BackendPrimary)
				So(a.AIAnalysis.Notes, ShouldEqual, "AI analysis in progress...")
			})

			Convey("Then the analysis should land the record in Pending", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, err := f.svc.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusPending)
				So(got.AIAnalysis.RepCount, ShouldEqual, 12)
				So(got.Evaluation.Score, ShouldBeNil)
			})

			Convey("Then the temporary upload should be released", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				_, err := os.Stat(sub.Video.Path)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("Then a reprocess should re-download the video and land in Evaluated", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				r, err := f.svc.Reprocess(ctx, a.ID)
				So(err, ShouldBeNil)
				So(r.Status, ShouldEqual, model.StatusProcessing)

				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, err := f.svc.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusEvaluated)
			})
		})

		Convey("When the analysis fails", func() {
			f.analyzer.result = analysis.Failure("worker exited with code 1")
			a, err := f.svc.Submit(ctx, f.submission(t, "bad.mp4", model.TestPushUps, ""))
			So(err, ShouldBeNil)

			Convey("Then the record should be Failed with the failure score", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, err := f.svc.AIAnalysis(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusFailed)
				So(got.AIAnalysis.TechniqueScore, ShouldEqual, 0.1)
				So(got.AIAnalysis.Notes, ShouldEqual, "AI analysis failed: worker exited with code 1")
			})
		})

		Convey("When required fields are missing", func() {
			sub := f.submission(t, "x.mp4", "", "")
			_, err := f.svc.Submit(ctx, sub)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When the primary store is down", func() {
			f.docs.down.Store(true)
			a, err := f.svc.Submit(ctx, f.submission(t, "local.mp4", model.TestShuttleRun, ""))
			So(err, ShouldBeNil)
			So(a.ID, ShouldStartWith, model.FallbackPrefix)

			Convey("Then the fallback record should be analyzed in place", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, err := f.svc.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusPending)
				_, err = os.Stat(got.Video.Path)
				So(err, ShouldBeNil)
			})

			Convey("Then reprocess should fail once its video is gone", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, _ := f.svc.Get(ctx, a.ID)
				So(os.Remove(got.Video.Path), ShouldBeNil)

				_, err := f.svc.Reprocess(ctx, a.ID)
				So(errors.Is(err, model.ErrVideoMissing), ShouldBeTrue)
			})
		})
	})
}

func TestService_Conflicts(t *testing.T) {
	Convey("Given an analysis that is still running", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.svc.Stop()

		gate := f.analyzer.hold()
		a, err := f.svc.Submit(ctx, f.submission(t, "slow.mp4", model.TestSitUps, ""))
		So(err, ShouldBeNil)

		Convey("When a reprocess is requested", func() {
			_, err := f.svc.Reprocess(ctx, a.ID)
			close(gate)

			Convey("Then it should be rejected as a conflict", func() {
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
			})
		})

		Convey("When a human evaluates before the analysis finishes", func() {
			score := 72.0
			ev, err := f.svc.Evaluate(ctx, a.ID, types.EvaluationRequest{Score: &score})
			So(err, ShouldBeNil)
			So(ev.Status, ShouldEqual, model.StatusEvaluated)
			close(gate)

			Convey("Then the late analysis should keep the Evaluated status", func() {
				So(settle(ctx, f.svc, a.ID), ShouldBeTrue)
				got, err := f.svc.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusEvaluated)
				So(got.AIAnalysis.RepCount, ShouldEqual, 12)
				So(*got.Evaluation.Score, ShouldEqual, 72.0)
				So(got.Evaluation.EvaluatedBy, ShouldEqual, "SAI Official")
			})
		})
	})

	Convey("Given an assessment of a type the worker cannot analyze", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.svc.Stop()

		a, err := f.svc.Submit(ctx, f.submission(t, "sprint.mp4", model.TestSprint, ""))
		So(err, ShouldBeNil)
		So(settle(ctx, f.svc, a.ID), ShouldBeTrue)

		Convey("When process-ai is requested", func() {
			_, err := f.svc.ProcessAI(ctx, a.ID)

			Convey("Then it should be rejected as invalid", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})
	})
}

func TestService_Evaluate(t *testing.T) {
	Convey("Given an athlete with a submitted assessment", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.svc.Stop()

		ath, err := f.svc.RegisterAthlete(ctx, model.Athlete{Name: "Kiran", Email: "kiran@example.com", Age: 17, State: "Punjab", District: "Ludhiana"}, nil)
		So(err, ShouldBeNil)
		a, err := f.svc.Submit(ctx, f.submission(t, "jump.mp4", model.TestVerticalJump, ath.ID))
		So(err, ShouldBeNil)
		So(settle(ctx, f.svc, a.ID), ShouldBeTrue)

		Convey("When the score is out of range", func() {
			bad := 101.0
			_, err := f.svc.Evaluate(ctx, a.ID, types.EvaluationRequest{Score: &bad})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When the score is missing", func() {
			_, err := f.svc.Evaluate(ctx, a.ID, types.EvaluationRequest{})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When the assessment does not exist", func() {
			score := 50.0
			_, err := f.svc.Evaluate(ctx, "missing", types.EvaluationRequest{Score: &score})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a score is recorded", func() {
			score := 80.0
			ev, err := f.svc.Evaluate(ctx, a.ID, types.EvaluationRequest{Score: &score, EvaluatorNotes: "clean form", EvaluatedBy: "Coach R"})
			So(err, ShouldBeNil)
			So(ev.Status, ShouldEqual, model.StatusEvaluated)
			So(ev.Evaluation.EvaluatedBy, ShouldEqual, "Coach R")

			Convey("Then the athlete best score and ranking should follow", func() {
				got, err := f.svc.Athlete(ctx, ath.ID)
				So(err, ShouldBeNil)
				So(got.BestScores[model.TestVerticalJump], ShouldEqual, 80.0)
				So(got.AverageScore, ShouldEqual, 80.0)

				entry, err := f.svc.Rank(ctx, ath.ID)
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 1)
				So(entry.Score, ShouldEqual, 80.0)
			})

			Convey("Then a lower later score should not replace the best", func() {
				lower := 40.0
				_, err := f.svc.Evaluate(ctx, a.ID, types.EvaluationRequest{Score: &lower})
				So(err, ShouldBeNil)
				got, _ := f.svc.Athlete(ctx, ath.ID)
				So(got.BestScores[model.TestVerticalJump], ShouldEqual, 80.0)
			})

			Convey("Then the detail should embed the athlete", func() {
				d, err := f.svc.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(d.Athlete, ShouldNotBeNil)
				So(d.Athlete.Name, ShouldEqual, "Kiran")
			})

			Convey("Then a rename should be carried into the ranking", func() {
				name := "Kiran S"
				_, err := f.svc.UpdateAthlete(ctx, ath.ID, repository.ProfileUpdate{Name: &name})
				So(err, ShouldBeNil)
				entry, err := f.svc.Rank(ctx, ath.ID)
				So(err, ShouldBeNil)
				So(entry.Name, ShouldEqual, "Kiran S")
			})
		})

		Convey("When the owning athlete is unknown", func() {
			b, err := f.svc.Submit(ctx, f.submission(t, "orphan.mp4", model.TestSitUps, "ghost"))
			So(err, ShouldBeNil)
			So(settle(ctx, f.svc, b.ID), ShouldBeTrue)

			score := 90.0
			_, err = f.svc.Evaluate(ctx, b.ID, types.EvaluationRequest{Score: &score})

			Convey("Then the evaluation should still succeed", func() {
				So(err, ShouldBeNil)
				So(f.svc.GetStats(ctx)["rankedAthletes"], ShouldEqual, 0)
			})
		})
	})
}

func TestService_Verify(t *testing.T) {
	Convey("Given a stored assessment", t, func() {
		ctx := context.Background()
		f := newFixture(t)
		So(f.svc.Start(ctx), ShouldBeNil)
		defer f.svc.Stop()

		a, err := f.svc.Submit(ctx, f.submission(t, "v.mp4", model.TestPushUps, ""))
		So(err, ShouldBeNil)
		So(settle(ctx, f.svc, a.ID), ShouldBeTrue)

		Convey("Then its identifiers should verify", func() {
			v, err := f.svc.Verify(ctx, a.ID)
			So(err, ShouldBeNil)
			So(v.Verified, ShouldBeTrue)
			So(v.BlockchainHash, ShouldEqual, a.BlockchainHash)
		})

		Convey("Then an unknown id should not be found", func() {
			_, err := f.svc.Verify(ctx, "local_nope")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})
	})
}
