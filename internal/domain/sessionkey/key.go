// Package sessionkey defines the identifier every other component keys
// its state by: the (user, phone number) pair a WhatsApp Web session
// belongs to.
package sessionkey

import (
	"fmt"
	"regexp"
	"strings"
)

var phoneRe = regexp.MustCompile(`^[1-9][0-9]{6,14}$`)

// Key identifies one logical WhatsApp session: a user account's
// WhatsApp Web connection for a single phone number, in E.164 digits
// without the leading '+'.
type Key struct {
	UserID string
	Phone  string
}

func New(userID, phone string) (Key, error) {
	k := Key{UserID: userID, Phone: phone}
	return k, k.Validate()
}

// Parse reverses String, used to recover a Key from a document-store
// row id at startup.
func Parse(s string) (Key, error) {
	userID, phone, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("sessionkey: %q is not a valid canonical key", s)
	}
	return New(userID, phone)
}

func (k Key) Validate() error {
	if k.UserID == "" {
		return fmt.Errorf("sessionkey: userId must not be empty")
	}
	if !phoneRe.MatchString(k.Phone) {
		return fmt.Errorf("sessionkey: %q is not a valid E.164 phone number", k.Phone)
	}
	return nil
}

// String renders the canonical form used as a map key, Redis key
// component, and document-store row id: "<userId>:<phone>".
func (k Key) String() string {
	return k.UserID + ":" + k.Phone
}

// StoragePath renders the Session Store object layout prefix:
// sessions/<userId>/<phone>/
func (k Key) StoragePath() string {
	return "sessions/" + k.UserID + "/" + k.Phone
}
