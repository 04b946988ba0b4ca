package lockservice

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// gobEncode is the plain (untagged) gob encoding used for Apply results: the
// caller always knows which result type to expect because it knows which
// command it sent, so no kind byte is needed here (unlike Encode/Decode for
// commands, which cross the opaque raft.StateMachine boundary).
func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "lockservice: encode result")
	}
	return buf.Bytes(), nil
}

// DecodeAcquireResult decodes the Apply result of a LockAcquire command.
func DecodeAcquireResult(data []byte) (AcquireResult, error) {
	var r AcquireResult
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, errors.Wrap(err, "lockservice: decode AcquireResult")
}

// DecodeReleaseResult decodes the Apply result of a LockRelease command.
func DecodeReleaseResult(data []byte) (ReleaseResult, error) {
	var r ReleaseResult
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, errors.Wrap(err, "lockservice: decode ReleaseResult")
}

// DecodeDeleteResult decodes the Apply result of a KvDelete command.
func DecodeDeleteResult(data []byte) (DeleteResult, error) {
	var r DeleteResult
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, errors.Wrap(err, "lockservice: decode DeleteResult")
}
