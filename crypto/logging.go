package crypto

import "github.com/sirupsen/logrus"

// logger returns an entry tagged with the crypto package and a function name.
func logger(function string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"package":  "crypto",
		"function": function,
	})
}

// Fingerprint describes secret material for a log line without revealing it.
// The fields carry the length and the first eight hex digits of the SHA-384
// digest, which is enough to tell two values apart in a trace.
func Fingerprint(name string, secret []byte) logrus.Fields {
	if len(secret) == 0 {
		return logrus.Fields{name: "empty"}
	}
	return logrus.Fields{
		name + "_fp":  SHA384Hex(secret)[:8],
		name + "_len": len(secret),
	}
}
