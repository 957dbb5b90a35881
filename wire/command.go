package wire

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cbrunker/quip/limits"
	"github.com/cbrunker/quip/qerr"
)

// Command is an 8-digit decimal command code. The values are shared with the
// directory server and existing peers and must not change.
type Command uint32

// Peer-to-peer server commands
const (
	FriendAccept  Command = 12012201
	FileRequest   Command = 99119840
	FileSend      Command = 99119841
	MessageSend   Command = 78986713
	AvatarReceive Command = 57383752
	ChatInvite    Command = 86878161
)

// Directory server commands
const (
	LoginNew          Command = 60610262
	LoginDelete       Command = 98198192
	Login             Command = 81721222
	Logout            Command = 99570102
	StatusSet         Command = 56191324
	MessagesGet       Command = 70771918
	MessageStore      Command = 47422111
	FriendListGet     Command = 10181108
	FriendRequest     Command = 88067180
	FriendRequestDel  Command = 56671276
	FriendRequestsGet Command = 79944333
	ProfileGet        Command = 19192491
	ProfileSet        Command = 74310221
	ProfileSearch     Command = 97929722
	AuthTokenGet      Command = 88781870
	AuthTokenSet      Command = 47422013
	AuthTokenDel      Command = 56671031
	RecoveryEmail     Command = 65663422
	RecoveryCode      Command = 65663424
	DetailsGet        Command = 17549000
	InvitesGet        Command = 35433331
	InvitesClear      Command = 35433332
	InvitesGenerate   Command = 47422112
)

// Category sentinels
const (
	InvalidCommand Command = 10000001
	InvalidData    Command = 10000002
	Nonexistent    Command = 10000003
	ModifiedFile   Command = 10000004
	Timeout        Command = 20000001
)

// Boolean markers and separators
const (
	True  byte = '1'
	False byte = '0'
	End   byte = '\n'

	// EntrySeparator separates records in directory responses
	EntrySeparator = "\u0091"
	// ValueSeparator separates fields inside a record
	ValueSeparator = "\u0092"
)

var commandNames = map[Command]string{
	FriendAccept:      "friend_accept",
	FileRequest:       "file_request",
	FileSend:          "file_send",
	MessageSend:       "message_send",
	AvatarReceive:     "avatar_receive",
	ChatInvite:        "chat_invite",
	LoginNew:          "login_new",
	LoginDelete:       "login_delete",
	Login:             "login",
	Logout:            "logout",
	StatusSet:         "status_set",
	MessagesGet:       "messages_get",
	MessageStore:      "message_store",
	FriendListGet:     "friend_list_get",
	FriendRequest:     "friend_request",
	FriendRequestDel:  "friend_request_del",
	FriendRequestsGet: "friend_requests_get",
	ProfileGet:        "profile_get",
	ProfileSet:        "profile_set",
	ProfileSearch:     "profile_search",
	AuthTokenGet:      "auth_token_get",
	AuthTokenSet:      "auth_token_set",
	AuthTokenDel:      "auth_token_del",
	RecoveryEmail:     "recovery_email",
	RecoveryCode:      "recovery_code",
	DetailsGet:        "details_get",
	InvitesGet:        "invites_get",
	InvitesClear:      "invites_clear",
	InvitesGenerate:   "invites_generate",
	InvalidCommand:    "invalid_command",
	InvalidData:       "invalid_data",
	Nonexistent:       "nonexistent",
	ModifiedFile:      "modified_file",
	Timeout:           "timeout",
}

var sentinelErrors = map[Command]error{
	InvalidCommand: qerr.ErrInvalidCommand,
	InvalidData:    qerr.ErrInvalidData,
	Nonexistent:    qerr.ErrNonexistent,
	ModifiedFile:   qerr.ErrModifiedFile,
	Timeout:        qerr.ErrTimeout,
}

// String returns a readable name for logging.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// Bytes returns the 8-byte ASCII form of the command.
func (c Command) Bytes() []byte {
	return []byte(fmt.Sprintf("%0*d", limits.CommandLength, uint32(c)))
}

// Known reports whether c is a defined command or sentinel.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// Err returns the error category carried by a sentinel, or nil for commands.
func (c Command) Err() error {
	return sentinelErrors[c]
}

// IsFailure reports whether c is one of the sentinels that close a connection.
func (c Command) IsFailure() bool {
	return c == InvalidCommand || c == InvalidData || c == Timeout
}

// ParseCommand parses an 8-byte ASCII decimal command code.
func ParseCommand(b []byte) (Command, error) {
	if len(b) != limits.CommandLength {
		return 0, fmt.Errorf("%w: command length %d", qerr.ErrInvalidCommand, len(b))
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: non-digit command %q", qerr.ErrInvalidCommand, b)
		}
	}
	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", qerr.ErrInvalidCommand, err)
	}
	return Command(v), nil
}

// SentinelFor maps an error onto the sentinel a server writes before closing.
// Errors outside the wire categories map to InvalidCommand.
func SentinelFor(err error) Command {
	switch {
	case errors.Is(err, qerr.ErrTimeout):
		return Timeout
	case errors.Is(err, qerr.ErrInvalidData), errors.Is(err, qerr.ErrSignature):
		return InvalidData
	case errors.Is(err, qerr.ErrNonexistent):
		return Nonexistent
	case errors.Is(err, qerr.ErrModifiedFile):
		return ModifiedFile
	default:
		return InvalidCommand
	}
}

// Bool returns the single-byte boolean marker.
func Bool(v bool) []byte {
	if v {
		return []byte{True}
	}
	return []byte{False}
}
