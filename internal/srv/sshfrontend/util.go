package sshfrontend

import (
	"encoding/base64"
	"time"

	"golang.org/x/crypto/ssh"
)

func marshalBase64(key ssh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key.Marshal())
}

// nowFunc supplies the current time for OTP validation.
var nowFunc = time.Now
