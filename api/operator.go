package api

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ovpnadmin/internal/util"
)

const operatorSaltSize = 16

// Operator is the single credential allowed to use the API. The password is
// kept only as an Argon2id key sealed in a memguard enclave.
type Operator struct {
	user   string
	salt   []byte
	params util.Argon2idParams
	key    *memguard.Enclave
}

// NewOperator derives the verification key for user/password. Both are
// NFC-normalized first so equivalent Unicode input compares equal.
func NewOperator(user, password string, params util.Argon2idParams) (*Operator, error) {
	if user == "" || password == "" {
		return nil, errors.New("operator user and password are required")
	}
	salt, err := util.RandomBytes(operatorSaltSize)
	if err != nil {
		return nil, fmt.Errorf("generating operator salt: %w", err)
	}
	key, err := util.DeriveArgon2idKey(util.Normalize(password), salt, params)
	if err != nil {
		return nil, fmt.Errorf("deriving operator key: %w", err)
	}
	return &Operator{
		user:   util.Normalize(user),
		salt:   salt,
		params: params,
		// NewEnclave wipes key.
		key: memguard.NewEnclave(key),
	}, nil
}

// User returns the operator name.
func (o *Operator) User() string {
	return o.user
}

// Verify reports whether user and password match. The key derivation runs
// even when the user name is wrong so both cases take the same time.
func (o *Operator) Verify(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(util.Normalize(user)), []byte(o.user)) == 1

	buf, err := o.key.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()

	keyOK, err := util.CompareArgon2idKey(util.Normalize(password), o.salt, o.params, buf.Bytes())
	if err != nil {
		return false
	}
	return userOK && keyOK
}
