package loadgen

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCheckOrder(t *testing.T) {
	Convey("Given ranking entries", t, func() {
		Convey("Then ties should share a dense rank", func() {
			So(checkOrder([]Entry{
				{Rank: 1, Score: 90}, {Rank: 2, Score: 80}, {Rank: 2, Score: 80}, {Rank: 3, Score: 70},
			}), ShouldBeNil)
		})

		Convey("Then an unsorted list should be rejected", func() {
			So(checkOrder([]Entry{{Rank: 1, Score: 50}, {Rank: 2, Score: 60}}), ShouldNotBeNil)
		})

		Convey("Then a skipped rank should be rejected", func() {
			So(checkOrder([]Entry{{Rank: 1, Score: 90}, {Rank: 3, Score: 80}}), ShouldNotBeNil)
		})
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		g := newGenerator(7)

		Convey("Then registrations should pass service validation bounds", func() {
			seen := map[string]bool{}
			for i := 0; i < 50; i++ {
				a := g.athlete(i)
				So(a.Age, ShouldBeBetweenOrEqual, 10, 50)
				So(a.Height, ShouldBeGreaterThan, 0.0)
				So(seen[a.Email], ShouldBeFalse)
				seen[a.Email] = true
			}
		})

		Convey("Then scores should stay within the evaluation range", func() {
			for i := 0; i < 200; i++ {
				s := g.score()
				So(s, ShouldBeBetweenOrEqual, 0.0, 100.0)
			}
		})

		Convey("Then submissions should carry the requested video size", func() {
			s := g.submission(3, []string{"a", "b"}, []string{"sprint"}, 128)
			So(len(s.Video), ShouldEqual, 128)
			So(s.AssessmentType, ShouldEqual, "sprint")
			So(s.AthleteID, ShouldBeIn, []string{"a", "b"})
		})
	})
}
