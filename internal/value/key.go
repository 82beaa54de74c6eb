package value

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"stratadb/internal/errs"
)

// ReservedPrefix is rejected on every user key at the boundary.
const ReservedPrefix = "_strata/"

// DefaultRun is the literal run every database exposes from first write,
// created lazily rather than at open.
const DefaultRun = "default"

// MaxKeyBytes is the default limit on encoded user-key length; overridable
// via Limits.
const MaxKeyBytes = 1024

// RunId identifies a logical scope: either the literal "default" or a
// lowercase-hyphenated UUID, created lazily on first write and never
// deleted within scope.
type RunId string

// NewRunId generates a fresh, valid RunId (a lowercase-hyphenated UUIDv4).
func NewRunId() RunId {
	return RunId(uuid.NewString())
}

// Validate reports whether r is "default" or a well-formed lowercase UUID.
func (r RunId) Validate() error {
	s := string(r)
	if s == DefaultRun {
		return nil
	}
	if s != strings.ToLower(s) {
		return errs.New(errs.InvalidKey, "run id %q must be lowercase", s)
	}
	if _, err := uuid.Parse(s); err != nil {
		return errs.Wrap(errs.InvalidKey, err, "run id %q is not %q or a UUID", s, DefaultRun)
	}
	return nil
}

// TypeTag distinguishes the primitive a key belongs to. Ordering within a
// Key follows this declaration order.
type TypeTag uint8

const (
	TagKV TypeTag = iota
	TagEvent
	TagState
	TagTrace
	TagRunMetadata
	TagVector
	TagJSON
)

func (t TypeTag) String() string {
	switch t {
	case TagKV:
		return "kv"
	case TagEvent:
		return "event"
	case TagState:
		return "state"
	case TagTrace:
		return "trace"
	case TagRunMetadata:
		return "run_metadata"
	case TagVector:
		return "vector"
	case TagJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Namespace scopes every key to a tenant, application, agent, and run.
type Namespace struct {
	Tenant string
	App    string
	Agent  string
	Run    RunId
}

// Less implements the namespace component of Key ordering: lexicographic
// over (tenant, app, agent, run).
func (n Namespace) Less(o Namespace) bool {
	if n.Tenant != o.Tenant {
		return n.Tenant < o.Tenant
	}
	if n.App != o.App {
		return n.App < o.App
	}
	if n.Agent != o.Agent {
		return n.Agent < o.Agent
	}
	return n.Run < o.Run
}

func (n Namespace) Equal(o Namespace) bool {
	return n.Tenant == o.Tenant && n.App == o.App && n.Agent == o.Agent && n.Run == o.Run
}

// Key is the composite (Namespace, TypeTag, user key) address of every
// record in the unified store. Ordering is lexicographic on the tuple ,
// namespace, then tag, then user key, so prefix scans are efficient and
// run-scoped.
type Key struct {
	Namespace Namespace
	Tag       TypeTag
	User      []byte
}

// NewKey validates user as a boundary key and returns a Key.
func NewKey(ns Namespace, tag TypeTag, user []byte) (Key, error) {
	if err := ValidateUserKey(user); err != nil {
		return Key{}, err
	}
	cp := make([]byte, len(user))
	copy(cp, user)
	return Key{Namespace: ns, Tag: tag, User: cp}, nil
}

// ValidateUserKey enforces the key shape every boundary call accepts:
// non-empty, UTF-8, NUL-free, under the byte limit, and not under the
// reserved prefix.
func ValidateUserKey(user []byte) error {
	return ValidateUserKeyWithLimit(user, MaxKeyBytes)
}

// ValidateUserKeyWithLimit is ValidateUserKey with a caller-supplied max
// length (for Limits-configured stores).
func ValidateUserKeyWithLimit(user []byte, maxBytes int) error {
	if len(user) == 0 {
		return errs.New(errs.InvalidKey, "key must be non-empty")
	}
	if len(user) > maxBytes {
		return errs.New(errs.InvalidKey, "key exceeds %d bytes", maxBytes).
			WithDetails("reason", errs.ReasonKeyTooLong)
	}
	if bytes.IndexByte(user, 0) >= 0 {
		return errs.New(errs.InvalidKey, "key contains NUL byte")
	}
	if !utf8.Valid(user) {
		return errs.New(errs.InvalidKey, "key is not valid UTF-8")
	}
	if bytes.HasPrefix(user, []byte(ReservedPrefix)) {
		return errs.New(errs.InvalidKey, "key uses reserved prefix %q", ReservedPrefix).
			WithDetails("reason", errs.ReasonReservedPrefix)
	}
	return nil
}

// Less implements total Key ordering: namespace, then tag, then user key
// bytes.
func (k Key) Less(o Key) bool {
	if !k.Namespace.Equal(o.Namespace) {
		return k.Namespace.Less(o.Namespace)
	}
	if k.Tag != o.Tag {
		return k.Tag < o.Tag
	}
	return bytes.Compare(k.User, o.User) < 0
}

func (k Key) Equal(o Key) bool {
	return k.Namespace.Equal(o.Namespace) && k.Tag == o.Tag && bytes.Equal(k.User, o.User)
}

// Encode renders k as a single comparable byte string: ordering on the
// encoding matches Less for prefix-grouping purposes (the 4-byte length
// prefix on each namespace component means differing-length namespaces
// can sort by length before content, diverging from Less's direct field
// comparison, but every namespace's encoded keys stay contiguous, which
// is what prefix scans rely on), letting the store keep a sorted index
// of encoded keys instead of a structural comparator, backing its
// logical sorted-map model with a plain []byte-keyed slice.
func (k Key) Encode() []byte {
	var buf bytes.Buffer
	writeLP(&buf, []byte(k.Namespace.Tenant))
	writeLP(&buf, []byte(k.Namespace.App))
	writeLP(&buf, []byte(k.Namespace.Agent))
	writeLP(&buf, []byte(k.Namespace.Run))
	buf.WriteByte(byte(k.Tag))
	buf.Write(k.User)
	return buf.Bytes()
}

// writeLP writes a length-prefixed component so concatenation cannot
// create ordering ambiguity between adjacent namespace fields.
func writeLP(buf *bytes.Buffer, b []byte) {
	n := len(b)
	buf.WriteByte(byte(n >> 24))
	buf.WriteByte(byte(n >> 16))
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(n))
	buf.Write(b)
}

// EncodeNamespacePrefix renders the encoded-key prefix shared by every key
// under the given namespace, for use with scan_prefix. It carries no tag
// byte, so it matches keys of every TypeTag in that namespace.
func EncodeNamespacePrefix(ns Namespace) []byte {
	var buf bytes.Buffer
	writeLP(&buf, []byte(ns.Tenant))
	writeLP(&buf, []byte(ns.App))
	writeLP(&buf, []byte(ns.Agent))
	writeLP(&buf, []byte(ns.Run))
	return buf.Bytes()
}
