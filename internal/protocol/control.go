// Package protocol defines the line-oriented control wire format shared by
// the control, screen-control, and file-transfer planes, plus the 4-byte
// publisher-id prefix carried by every media datagram.
//
// Every stream message is a single UTF-8 line terminated by '\n'. Fields are
// separated by ':'; the last field is read verbatim to end of line and may
// itself contain colons.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire-protocol limits.
const (
	MaxUsernameLength = 64       // max UTF-8 bytes for a username
	MaxFilenameLength = 255      // max UTF-8 bytes for an offered filename
	MaxLineBytes      = 64 << 10 // scanner cap for any single control line
)

// ErrMalformed marks wire input that does not follow the protocol grammar.
// Handlers answer it with an ERROR line and close the stream.
var ErrMalformed = errors.New("malformed message")

// Inbound verbs.
const (
	CmdRegister = "REGISTER"     // REGISTER:<username>
	CmdChat     = "CHAT_MESSAGE" // CHAT_MESSAGE:<body>
	CmdPrivate  = "PRIVATE_CHAT" // PRIVATE_CHAT:<id1>,<id2>,...:<body>
	CmdPing     = "PING"

	CmdHello            = "HELLO" // HELLO:<client_id>, first line on a screen-control stream
	CmdRequestPresenter = "REQUEST_PRESENTER"
	CmdReleasePresenter = "RELEASE_PRESENTER"

	CmdUpload   = "UPLOAD"   // UPLOAD:<client_id>:<username>:<filename>:<size>
	CmdDownload = "DOWNLOAD" // DOWNLOAD:<file_id>
	CmdDelete   = "DELETE"   // DELETE:<file_id>:<client_id>
	CmdReady    = "READY"
)

// Outbound verbs.
const (
	RespID            = "ID"
	RespRoster        = "ROSTER"
	RespHistoryBegin  = "HISTORY_BEGIN"
	RespHistoryEnd    = "HISTORY_END"
	RespChat          = "CHAT"
	RespPrivate       = "PRIVATE"
	RespSystem        = "SYSTEM"
	RespPresenter     = "PRESENTER"
	RespFileOffer     = "FILE_OFFER"
	RespFileDeleted   = "FILE_DELETED"
	RespPong          = "PONG"
	RespPresenterOK   = "PRESENTER_OK"
	RespPresenterDeny = "PRESENTER_DENIED"
	RespReady         = "READY"
	RespFile          = "FILE"
	RespSuccess       = "SUCCESS"
	RespDeleteSuccess = "DELETE_SUCCESS"
	RespError         = "ERROR"

	// PresenterNone is the PRESENTER payload when nobody holds the screen.
	PresenterNone = "NONE"
)

// Command is one inbound line split at the first colon. Verbs without an
// argument (PING, REQUEST_PRESENTER) leave Arg empty.
type Command struct {
	Verb string
	Arg  string
}

// SplitCommand splits a raw line (without its trailing newline) into verb and
// argument.
func SplitCommand(line string) Command {
	verb, arg, _ := strings.Cut(line, ":")
	return Command{Verb: verb, Arg: arg}
}

// ParseUsername validates a REGISTER argument. The name is trimmed and must
// be non-empty, within MaxUsernameLength bytes, and free of newline and the
// ':' and '|' field delimiters that would corrupt roster and chat framing.
func ParseUsername(arg string) (string, error) {
	name := strings.TrimSpace(arg)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty username", ErrMalformed)
	case len(name) > MaxUsernameLength:
		return "", fmt.Errorf("%w: username exceeds %d bytes", ErrMalformed, MaxUsernameLength)
	case strings.ContainsAny(name, ":|\r\n"):
		return "", fmt.Errorf("%w: username contains a reserved character", ErrMalformed)
	}
	return name, nil
}

// ParseFilename validates an uploaded filename. Directory components are not
// allowed; the catalog stores flat names.
func ParseFilename(arg string) (string, error) {
	name := strings.TrimSpace(arg)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty filename", ErrMalformed)
	case len(name) > MaxFilenameLength:
		return "", fmt.Errorf("%w: filename exceeds %d bytes", ErrMalformed, MaxFilenameLength)
	case strings.ContainsAny(name, ":|\r\n") || strings.ContainsAny(name, `/\`):
		return "", fmt.Errorf("%w: filename contains a reserved character", ErrMalformed)
	}
	return name, nil
}

// ParseID parses a decimal 32-bit id field.
func ParseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad id %q", ErrMalformed, s)
	}
	return uint32(v), nil
}

// ParsePrivateChat splits a PRIVATE_CHAT argument into recipient ids and the
// verbatim body. Empty id tokens are skipped; a non-decimal token is a
// protocol error. Duplicate ids are collapsed.
func ParsePrivateChat(arg string) ([]uint32, string, error) {
	rawIDs, body, ok := strings.Cut(arg, ":")
	if !ok {
		return nil, "", fmt.Errorf("%w: PRIVATE_CHAT needs <ids>:<body>", ErrMalformed)
	}
	var ids []uint32
	seen := make(map[uint32]bool)
	for _, tok := range strings.Split(rawIDs, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := ParseID(tok)
		if err != nil {
			return nil, "", err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, "", fmt.Errorf("%w: PRIVATE_CHAT carries no recipients", ErrMalformed)
	}
	return ids, body, nil
}

// UploadHeader is the parsed form of an UPLOAD command line.
type UploadHeader struct {
	ClientID uint32
	Username string
	Filename string
	Size     int64
}

// ParseUpload parses "UPLOAD:<client_id>:<username>:<filename>:<size>"
// (the argument after the verb). The header is split at the last colon so a
// malformed filename surfaces as a filename error rather than a size error.
func ParseUpload(arg string) (UploadHeader, error) {
	var h UploadHeader
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) != 3 {
		return h, fmt.Errorf("%w: UPLOAD needs <client_id>:<username>:<filename>:<size>", ErrMalformed)
	}
	id, err := ParseID(parts[0])
	if err != nil {
		return h, err
	}
	name, err := ParseUsername(parts[1])
	if err != nil {
		return h, err
	}
	cut := strings.LastIndexByte(parts[2], ':')
	if cut < 0 {
		return h, fmt.Errorf("%w: UPLOAD missing size field", ErrMalformed)
	}
	filename, err := ParseFilename(parts[2][:cut])
	if err != nil {
		return h, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[2][cut+1:]), 10, 64)
	if err != nil || size < 0 {
		return h, fmt.Errorf("%w: bad upload size %q", ErrMalformed, parts[2][cut+1:])
	}
	h.ClientID = id
	h.Username = name
	h.Filename = filename
	h.Size = size
	return h, nil
}

// ParseDelete parses "DELETE:<file_id>:<client_id>" (argument after the verb).
func ParseDelete(arg string) (fileID, clientID uint32, err error) {
	a, b, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: DELETE needs <file_id>:<client_id>", ErrMalformed)
	}
	if fileID, err = ParseID(a); err != nil {
		return 0, 0, err
	}
	if clientID, err = ParseID(b); err != nil {
		return 0, 0, err
	}
	return fileID, clientID, nil
}

// RosterEntry is one participant in a ROSTER snapshot.
type RosterEntry struct {
	ID       uint32
	Username string
}

// Timestamp renders the wall-clock form chat lines carry.
func Timestamp(t time.Time) string { return t.Format("15:04:05") }

func line(parts ...string) []byte {
	n := len(parts)
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return append(b, '\n')
}

func formatID(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// EncodeID renders the admission line carrying the assigned client id.
func EncodeID(id uint32) []byte { return line(RespID, formatID(id)) }

// EncodeRoster renders a roster snapshot as "ROSTER:id:username|id:username".
func EncodeRoster(entries []RosterEntry) []byte {
	var sb strings.Builder
	sb.WriteString(RespRoster)
	sb.WriteByte(':')
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(formatID(e.ID))
		sb.WriteByte(':')
		sb.WriteString(e.Username)
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

// EncodeChat renders a group chat line.
func EncodeChat(senderID uint32, username, stamp, body string) []byte {
	return line(RespChat, formatID(senderID), username, stamp, body)
}

// EncodePrivate renders a private chat line; names is the comma-joined list
// of resolved recipient usernames.
func EncodePrivate(senderID uint32, username, stamp, names, body string) []byte {
	return line(RespPrivate, formatID(senderID), username, stamp, names, body)
}

// EncodeSystem renders a system notification line.
func EncodeSystem(body string) []byte { return line(RespSystem, body) }

// EncodePresenter renders the presenter-change line; present=false yields
// PRESENTER:NONE.
func EncodePresenter(id uint32, present bool) []byte {
	if !present {
		return line(RespPresenter, PresenterNone)
	}
	return line(RespPresenter, formatID(id))
}

// EncodeFileOffer renders the catalog addition notice.
func EncodeFileOffer(fileID uint32, filename string, size int64, uploaderName string, uploaderID uint32) []byte {
	return line(RespFileOffer, formatID(fileID), filename,
		strconv.FormatInt(size, 10), uploaderName, formatID(uploaderID))
}

// EncodeFileDeleted renders the catalog removal notice.
func EncodeFileDeleted(fileID uint32) []byte { return line(RespFileDeleted, formatID(fileID)) }

// EncodeError renders an ERROR reply with a human-readable reason.
func EncodeError(reason string) []byte { return line(RespError, reason) }

// EncodeHistoryBegin, EncodeHistoryEnd, and EncodePong render the bare
// framing verbs.
func EncodeHistoryBegin() []byte { return []byte(RespHistoryBegin + "\n") }
func EncodeHistoryEnd() []byte   { return []byte(RespHistoryEnd + "\n") }
func EncodePong() []byte         { return []byte(RespPong + "\n") }

// EncodeFileHeader renders the DOWNLOAD preamble "FILE:<filename>:<size>".
func EncodeFileHeader(filename string, size int64) []byte {
	return line(RespFile, filename, strconv.FormatInt(size, 10))
}

// EncodeSuccess renders the upload completion line "SUCCESS:<file_id>".
func EncodeSuccess(fileID uint32) []byte { return line(RespSuccess, formatID(fileID)) }

// EncodeDeleteSuccess renders "DELETE_SUCCESS:<file_id>".
func EncodeDeleteSuccess(fileID uint32) []byte { return line(RespDeleteSuccess, formatID(fileID)) }

// EncodeReady renders the bare READY line used on the file plane.
func EncodeReady() []byte { return []byte(RespReady + "\n") }

// EncodePresenterOK and EncodePresenterDenied render the screen-control
// replies.
func EncodePresenterOK() []byte     { return []byte(RespPresenterOK + "\n") }
func EncodePresenterDenied() []byte { return []byte(RespPresenterDeny + "\n") }
