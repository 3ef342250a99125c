// Package obfuscate maps internal sequential keys to opaque public identifiers and back.
//
// A public id is a one-letter kind prefix followed by (id * Secret) mod Modulus in
// decimal. Secret must be coprime with Modulus so the mapping is a bijection on
// [0, Modulus) and can be inverted without a lookup table.
package obfuscate

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
)

const (
	DefaultModulus uint64 = 1_000_000_000
	DefaultSecret  uint64 = 383_446_691
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDecode          = errors.New("cannot decode public id")
)

// Kind tags the entity a public id refers to.
type Kind byte

const (
	Model     Kind = 'm'
	Instance  Kind = 'i'
	Request   Kind = 'r'
	Task      Kind = 't'
	Outcome   Kind = 'o'
	ActorKind Kind = 'u'
	Company   Kind = 'c'
	Tool      Kind = 'a'
)

const unknownKind Kind = 0

var kindNames = map[Kind]string{
	Model:     "model",
	Instance:  "model_instance",
	Request:   "validation_request",
	Task:      "validation_task",
	Outcome:   "validation_outcome",
	ActorKind: "actor",
	Company:   "company",
	Tool:      "authoring_tool",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%q)", byte(k))
}

// Valid reports whether k is a registered kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind resolves a kind from its prefix letter or its name.
func ParseKind(s string) (Kind, error) {
	if len(s) == 1 && Kind(s[0]).Valid() {
		return Kind(s[0]), nil
	}
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return unknownKind, fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, s)
}

// Obfuscator is immutable after New and safe for concurrent use.
type Obfuscator struct {
	modulus uint64
	secret  uint64
	inverse uint64
}

// New validates the parameters and precomputes the modular inverse of secret.
func New(modulus, secret uint64) (Obfuscator, error) {
	if modulus < 2 {
		return Obfuscator{}, fmt.Errorf("%w: modulus must be > 1", ErrInvalidArgument)
	}
	if secret == 0 || secret >= modulus {
		return Obfuscator{}, fmt.Errorf("%w: secret must be in (0, %d)", ErrInvalidArgument, modulus)
	}
	m := new(big.Int).SetUint64(modulus)
	inv := new(big.Int).ModInverse(new(big.Int).SetUint64(secret), m)
	if inv == nil {
		return Obfuscator{}, fmt.Errorf("%w: secret %d is not coprime with modulus %d", ErrInvalidArgument, secret, modulus)
	}
	return Obfuscator{modulus: modulus, secret: secret, inverse: inv.Uint64()}, nil
}

// Default returns the obfuscator built from DefaultModulus and DefaultSecret.
func Default() Obfuscator {
	o, err := New(DefaultModulus, DefaultSecret)
	if err != nil {
		panic(err)
	}
	return o
}

func (o Obfuscator) Modulus() uint64 { return o.modulus }

func (o Obfuscator) mulmod(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, o.modulus)
}

// Encode returns the public id for an internal id of the given kind.
func (o Obfuscator) Encode(kind Kind, id int64) (string, error) {
	if o.modulus == 0 {
		return "", fmt.Errorf("%w: obfuscator not initialised", ErrInvalidArgument)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %v", ErrInvalidArgument, kind)
	}
	if id < 0 || uint64(id) >= o.modulus {
		return "", fmt.Errorf("%w: id %d outside [0, %d)", ErrInvalidArgument, id, o.modulus)
	}
	x := o.mulmod(uint64(id), o.secret)
	return string([]byte{byte(kind)}) + strconv.FormatUint(x, 10), nil
}

// Decode parses a public id into its kind and internal id.
func (o Obfuscator) Decode(public string) (Kind, int64, error) {
	if o.modulus == 0 {
		return unknownKind, 0, fmt.Errorf("%w: obfuscator not initialised", ErrDecode)
	}
	if len(public) < 2 {
		return unknownKind, 0, fmt.Errorf("%w: %q is too short", ErrDecode, public)
	}
	kind := Kind(public[0])
	if !kind.Valid() {
		return unknownKind, 0, fmt.Errorf("%w: unknown prefix %q", ErrDecode, public[:1])
	}
	digits := public[1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return unknownKind, 0, fmt.Errorf("%w: %q is not prefix+digits", ErrDecode, public)
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return unknownKind, 0, fmt.Errorf("%w: %q has leading zeros", ErrDecode, public)
	}
	x, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || x >= o.modulus {
		return unknownKind, 0, fmt.Errorf("%w: %q out of range", ErrDecode, public)
	}
	return kind, int64(o.mulmod(x, o.inverse)), nil
}

// DecodeAs decodes public and requires it to carry the given kind prefix.
func (o Obfuscator) DecodeAs(kind Kind, public string) (int64, error) {
	got, id, err := o.Decode(public)
	if err != nil {
		return 0, err
	}
	if got != kind {
		return 0, fmt.Errorf("%w: %q is a %v id, want %v", ErrDecode, public, got, kind)
	}
	return id, nil
}
