package api

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
)

const (
	HeaderStudentID       = "X-Student-ID"
	HeaderStudentVerified = "X-Student-Verified"
)

// EligibilityChecker answers whether a student may register. The decision is
// made by the identity subsystem; the engine only consumes the answer.
type EligibilityChecker interface {
	IsEligible(c *ginext.Context, studentID uuid.UUID) bool
}

// HeaderEligibility trusts the verification flag the upstream identity gateway
// sets on authenticated requests.
type HeaderEligibility struct{}

func (HeaderEligibility) IsEligible(c *ginext.Context, _ uuid.UUID) bool {
	ok, err := strconv.ParseBool(c.GetHeader(HeaderStudentVerified))
	return err == nil && ok
}

func studentFrom(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(HeaderStudentID))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
