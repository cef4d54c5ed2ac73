package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/docstore"
	"github.com/okian/repscore/internal/adapters/repository"
	"github.com/okian/repscore/internal/domain/model"
)

func athlete(name, email string, age int) model.Athlete {
	return model.Athlete{Name: name, Email: email, Age: age, State: "Kerala", District: "Kochi"}
}

func TestAthletes(t *testing.T) {
	Convey("Given an athlete repository", t, func() {
		ctx := context.Background()
		repo := repository.NewAthletes(docstore.NewMemory())

		Convey("When a valid athlete registers", func() {
			a, err := repo.Register(ctx, athlete("Asha", " Asha@Example.com ", 14))

			Convey("Then derived and default fields should be filled", func() {
				So(err, ShouldBeNil)
				So(a.ID, ShouldNotBeEmpty)
				So(a.Email, ShouldEqual, "asha@example.com")
				So(a.Sport, ShouldEqual, "General")
				So(a.AgeGroup, ShouldEqual, "Under-15")
				So(a.Status, ShouldEqual, "active")
				So(len(a.BestScores), ShouldEqual, len(model.KnownTestTypes))
				So(a.RegistrationDate.IsZero(), ShouldBeFalse)
			})

			Convey("Then it can be fetched by id", func() {
				got, err := repo.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "Asha")
				So(got.BestScores[model.TestSitUps], ShouldEqual, 0.0)
			})

			Convey("Then a second registration with the same email should be rejected", func() {
				_, err := repo.Register(ctx, athlete("Other", "ASHA@example.com", 20))
				So(errors.Is(err, repository.ErrDuplicateEmail), ShouldBeTrue)
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When required fields are missing", func() {
			_, err := repo.Register(ctx, model.Athlete{Email: "x@example.com", Age: 9})

			Convey("Then a validation error should be returned", func() {
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When an unknown athlete is requested", func() {
			_, err := repo.Get(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When several athletes have scores", func() {
			low, _ := repo.Register(ctx, athlete("Low", "low@example.com", 17))
			high, _ := repo.Register(ctx, athlete("High", "high@example.com", 25))
			mid := athlete("Mid", "mid@example.com", 16)
			mid.Sport = "Athletics"
			mid, _ = repo.Register(ctx, mid)

			for a, score := range map[*model.Athlete]float64{&low: 20, &high: 90, &mid: 55} {
				a.RecordBest(model.TestPushUps, score)
				So(repo.SaveScores(ctx, *a), ShouldBeNil)
			}

			Convey("Then listing should order by average score, best first", func() {
				all, err := repo.List(ctx, model.AthleteFilter{})
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 3)
				So(all[0].Name, ShouldEqual, "High")
				So(all[1].Name, ShouldEqual, "Mid")
				So(all[2].Name, ShouldEqual, "Low")
				So(all[0].AverageScore, ShouldEqual, 90.0)
			})

			Convey("Then filters should narrow the listing", func() {
				seniors, err := repo.List(ctx, model.AthleteFilter{AgeGroup: "Senior"})
				So(err, ShouldBeNil)
				So(len(seniors), ShouldEqual, 1)
				So(seniors[0].ID, ShouldEqual, high.ID)

				athletics, err := repo.List(ctx, model.AthleteFilter{Sport: "Athletics"})
				So(err, ShouldBeNil)
				So(len(athletics), ShouldEqual, 1)
				So(athletics[0].ID, ShouldEqual, mid.ID)
			})
		})

		Convey("When a profile is updated", func() {
			a, _ := repo.Register(ctx, athlete("Ravi", "ravi@example.com", 12))
			age := 19
			district := "Thrissur"
			got, err := repo.UpdateProfile(ctx, a.ID, repository.ProfileUpdate{Age: &age, District: &district})

			Convey("Then the changed fields and the age group should follow", func() {
				So(err, ShouldBeNil)
				So(got.Age, ShouldEqual, 19)
				So(got.AgeGroup, ShouldEqual, "Senior")
				So(got.District, ShouldEqual, "Thrissur")
				So(got.Name, ShouldEqual, "Ravi")
			})

			Convey("Then an out-of-range age should be rejected", func() {
				bad := 60
				_, err := repo.UpdateProfile(ctx, a.ID, repository.ProfileUpdate{Age: &bad})
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})

			Convey("Then updating an unknown athlete should fail", func() {
				_, err := repo.UpdateProfile(ctx, "nobody", repository.ProfileUpdate{Age: &age})
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func photo(name, contentType, body string) *repository.Photo {
	return &repository.Photo{FileName: name, ContentType: contentType, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestAthletePhotos(t *testing.T) {
	Convey("Given an athlete repository with a photo store", t, func() {
		ctx := context.Background()
		blobs := blobstore.NewMemory("http://test")
		repo := repository.NewAthletes(docstore.NewMemory(), repository.WithPhotoStore(blobs))

		Convey("When a photo is uploaded", func() {
			url, err := repo.UploadPhoto(ctx, *photo("Me.PNG", "image/png", "png"))

			Convey("Then it should be stored under the athletes prefix", func() {
				So(err, ShouldBeNil)
				So(url, ShouldStartWith, "http://test/blobs/athletes/")
				So(url, ShouldEndWith, ".png")
				So(blobs.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the upload is not an image", func() {
			_, err := repo.UploadPhoto(ctx, *photo("clip.mp4", "video/mp4", "frames"))
			So(errors.Is(err, repository.ErrNotImage), ShouldBeTrue)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			So(blobs.Len(), ShouldEqual, 0)
		})

		Convey("When a profile photo is replaced", func() {
			url, err := repo.UploadPhoto(ctx, *photo("old.png", "image/png", "old"))
			So(err, ShouldBeNil)
			a := athlete("Ravi", "ravi@example.com", 16)
			a.ProfilePhoto = url
			a, err = repo.Register(ctx, a)
			So(err, ShouldBeNil)
			So(a.ProfilePhoto, ShouldEqual, url)

			got, err := repo.UpdateProfile(ctx, a.ID, repository.ProfileUpdate{Photo: photo("new.jpg", "image/jpeg", "new")})

			Convey("Then the athlete should point at the new photo and the old one should be gone", func() {
				So(err, ShouldBeNil)
				So(got.ProfilePhoto, ShouldNotEqual, url)
				So(got.ProfilePhoto, ShouldEndWith, ".jpg")
				So(blobs.Len(), ShouldEqual, 1)
				So(errors.Is(blobs.Delete(ctx, url), model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the athlete to update does not exist", func() {
			_, err := repo.UpdateProfile(ctx, "nobody", repository.ProfileUpdate{Photo: photo("x.png", "image/png", "x")})
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			So(blobs.Len(), ShouldEqual, 0)
		})
	})

	Convey("Given an athlete repository without a photo store", t, func() {
		repo := repository.NewAthletes(docstore.NewMemory())

		Convey("Then photo uploads should be rejected", func() {
			_, err := repo.UploadPhoto(context.Background(), *photo("me.png", "image/png", "png"))
			So(errors.Is(err, repository.ErrPhotosDisabled), ShouldBeTrue)
		})
	})
}
