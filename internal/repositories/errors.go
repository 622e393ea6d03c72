package repositories

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"

	"conversation-service/internal/errs"
)

var (
	ErrConversationNotFound = errs.NotFound("conversation not found")
	ErrParticipantNotFound  = errs.NotFound("participant not found")
	ErrMessageNotFound      = errs.NotFound("message not found")
	ErrUserNotFound         = errs.NotFound("user not found")
	ErrAlreadyParticipant   = errs.Conflict("user is already an active participant")
	ErrDirectExists         = errs.Conflict("direct conversation already exists for pair")
)

// translate maps driver errors onto the errs taxonomy. notFound is returned for
// sql.ErrNoRows.
func translate(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" {
			return &errs.Error{Kind: errs.KindConflict, Msg: op, Err: err}
		}
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return errs.Store(op, err, true)
		}
		return errs.Store(op, err, false)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.Store(op, err, true)
	}
	return errs.Store(op, err, false)
}
