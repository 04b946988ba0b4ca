// Package lockservice implements a replicated, fenced lock service: a
// deterministic state machine layered over a Raft log. Every mutation —
// lock acquire, lock release, and the general-purpose key/value commands
// get() reads from — is wrapped as an opaque, tagged-variant command so
// the Raft layer never inspects payload contents.
package lockservice

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Kind tags the variant of an encoded Command so Decode can dispatch
// without the Raft layer ever needing to understand the payload.
type Kind byte

const (
	KindLockAcquire Kind = iota + 1
	KindLockRelease
	KindKvSet
	KindKvDelete
)

// ErrUnknownKind is returned by Decode when a command's tag byte doesn't
// match any registered variant — normally a sign of a version skew bug,
// since commands are only ever produced by this package's Encode.
var ErrUnknownKind = errors.New("lockservice: unknown command kind")

// LockAcquire requests exclusive ownership of Key. NowMillis is the leader's
// wall-clock reading in milliseconds at propose time — stamping it into the
// command (rather than letting each replica read its own clock at apply
// time) is what makes Apply a pure function of the committed log.
type LockAcquire struct {
	Key       string
	Owner     string
	TTLMillis int64
	NowMillis int64
	RequestID string
}

// LockRelease releases Key if currently held by Owner.
type LockRelease struct {
	Key       string
	Owner     string
	RequestID string
}

// KvSet sets an arbitrary key/value pair, read back through Get. Lets a
// generic propose() populate keys outside of lock metadata.
type KvSet struct {
	Key       string
	Value     []byte
	RequestID string
}

// KvDelete removes a key set via KvSet.
type KvDelete struct {
	Key       string
	RequestID string
}

// Encode wraps cmd in its tagged wire form: one kind byte followed by a
// gob-encoded payload. The result is what callers pass to raft.Node.Propose
// / ProposeAndWait as the opaque command bytes.
func Encode(cmd interface{}) ([]byte, error) {
	var kind Kind
	switch cmd.(type) {
	case LockAcquire:
		kind = KindLockAcquire
	case LockRelease:
		kind = KindLockRelease
	case KvSet:
		kind = KindKvSet
	case KvDelete:
		kind = KindKvDelete
	default:
		return nil, errors.Errorf("lockservice: cannot encode command of type %T", cmd)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, errors.Wrap(err, "lockservice: encode command")
	}
	return buf.Bytes(), nil
}

// Decode inspects the kind byte and gob-decodes the payload into the
// matching concrete command type, returned as interface{}.
func Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, errors.New("lockservice: empty command")
	}
	kind := Kind(data[0])
	dec := gob.NewDecoder(bytes.NewReader(data[1:]))

	switch kind {
	case KindLockAcquire:
		var c LockAcquire
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrap(err, "lockservice: decode LockAcquire")
		}
		return c, nil
	case KindLockRelease:
		var c LockRelease
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrap(err, "lockservice: decode LockRelease")
		}
		return c, nil
	case KindKvSet:
		var c KvSet
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrap(err, "lockservice: decode KvSet")
		}
		return c, nil
	case KindKvDelete:
		var c KvDelete
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrap(err, "lockservice: decode KvDelete")
		}
		return c, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind byte %d", kind)
	}
}
