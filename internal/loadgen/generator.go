package loadgen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

var (
	firstNames = []string{"Aarav", "Diya", "Kabir", "Meera", "Rohan", "Isha", "Vikram", "Anaya", "Arjun", "Sara"}
	lastNames  = []string{"Sharma", "Iyer", "Singh", "Nair", "Patel", "Reddy", "Das", "Kaur", "Menon", "Bose"}
	states     = []string{"Kerala", "Punjab", "Maharashtra", "Karnataka", "Assam"}
	districts  = []string{"North", "South", "East", "West", "Central"}
	sports     = []string{"Athletics", "Football", "Hockey", "Wrestling", "General"}
)

// registration is the body of POST /api/athletes/register.
type registration struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Age      int     `json:"age"`
	State    string  `json:"state"`
	District string  `json:"district"`
	Sport    string  `json:"sport"`
	Height   float64 `json:"height"`
	Weight   float64 `json:"weight"`
}

// submission is one multipart upload.
type submission struct {
	SportCategory  string
	AssessmentType string
	AthleteID      string
	Metadata       string
	FileName       string
	Video          []byte
}

// generator produces synthetic data. It is not safe for concurrent use.
type generator struct {
	rnd *rand.Rand
	run string
}

func newGenerator(seed uint64) *generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &generator{
		rnd: rand.New(rand.NewPCG(seed, seed>>1|1)),
		run: strings.SplitN(uuid.NewString(), "-", 2)[0],
	}
}

func (g *generator) pick(list []string) string {
	return list[g.rnd.IntN(len(list))]
}

// athlete returns registration i. Emails are unique per run.
func (g *generator) athlete(i int) registration {
	first, last := g.pick(firstNames), g.pick(lastNames)
	return registration{
		Name:     first + " " + last,
		Email:    fmt.Sprintf("%s.%s.%d.%s@loadgen.test", strings.ToLower(first), strings.ToLower(last), i, g.run),
		Age:      10 + g.rnd.IntN(25),
		State:    g.pick(states),
		District: g.pick(districts),
		Sport:    g.pick(sports),
		Height:   round1(140 + g.rnd.Float64()*50),
		Weight:   round1(35 + g.rnd.Float64()*50),
	}
}

// submission returns upload i for a random athlete and test type.
func (g *generator) submission(i int, athleteIDs, testTypes []string, size int) submission {
	s := submission{
		SportCategory:  "Fitness",
		AssessmentType: g.pick(testTypes),
		Metadata:       fmt.Sprintf(`{"source":"loadgen","run":%q,"seq":%d}`, g.run, i),
		FileName:       fmt.Sprintf("loadgen-%s-%d.mp4", g.run, i),
		Video:          make([]byte, size),
	}
	if len(athleteIDs) > 0 {
		s.AthleteID = g.pick(athleteIDs)
	}
	for j := range s.Video {
		s.Video[j] = byte(g.rnd.UintN(256))
	}
	return s
}

// score draws an official score. Most fall in the middle band and a few
// are exceptional.
func (g *generator) score() float64 {
	switch g.rnd.IntN(8) {
	case 0:
		return round1(90 + g.rnd.Float64()*10)
	case 1:
		return round1(5 + g.rnd.Float64()*25)
	default:
		return round1(40 + g.rnd.Float64()*45)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
