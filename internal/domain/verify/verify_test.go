package verify_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/okian/repscore/internal/domain/verify"
	"github.com/smartystreets/goconvey/convey"
)

var (
	hashShape = regexp.MustCompile(`^[A-Za-z0-9]{64}$`)
	txShape   = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
)

func TestIdentifiers(t *testing.T) {
	convey.Convey("Given freshly minted identifiers", t, func() {
		convey.Convey("Then hashes and transaction ids should have the documented shape", func() {
			for range 200 {
				h := verify.NewVerificationHash()
				tx := verify.NewTransactionID()
				convey.So(hashShape.MatchString(h), convey.ShouldBeTrue)
				convey.So(txShape.MatchString(tx), convey.ShouldBeTrue)
				convey.So(verify.VerifyHash(h), convey.ShouldBeTrue)
				convey.So(verify.VerifyTransactionID(tx), convey.ShouldBeTrue)
			}
		})

		convey.Convey("Then consecutive values should differ", func() {
			convey.So(verify.NewVerificationHash(), convey.ShouldNotEqual, verify.NewVerificationHash())
			convey.So(verify.NewTransactionID(), convey.ShouldNotEqual, verify.NewTransactionID())
		})
	})

	convey.Convey("Given malformed identifiers", t, func() {
		convey.So(verify.VerifyHash(""), convey.ShouldBeFalse)
		convey.So(verify.VerifyHash(strings.Repeat("a", 63)), convey.ShouldBeFalse)
		convey.So(verify.VerifyHash(strings.Repeat("a", 63)+"!"), convey.ShouldBeFalse)
		convey.So(verify.VerifyTransactionID(strings.Repeat("a", 66)), convey.ShouldBeFalse)
		convey.So(verify.VerifyTransactionID("0x"+strings.Repeat("A", 64)), convey.ShouldBeFalse)
		convey.So(verify.VerifyTransactionID("0x"+strings.Repeat("f", 63)), convey.ShouldBeFalse)
	})

	convey.Convey("Given a record's identifiers", t, func() {
		r := verify.Check(verify.NewVerificationHash(), "0xnope")
		convey.So(r.HashValid, convey.ShouldBeTrue)
		convey.So(r.TransactionValid, convey.ShouldBeFalse)
		convey.So(r.Verified, convey.ShouldBeFalse)
	})
}
