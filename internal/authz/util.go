package authz

import (
	"encoding/base64"
	"strconv"

	"github.com/gravitational/trace"
)

var errBadHash = trace.BadParameter("malformed argon2id hash")

var (
	base64RawStd = base64.RawStdEncoding
	base64Std    = base64.StdEncoding
)

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
