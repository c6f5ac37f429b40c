package challenge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordVersionV1 = 1
	// version(1) kind(1) attempts(2) expiresAt(8) hasSecret(1) secretHash(32)
	fixedHeaderLen = 45
)

var (
	ErrNotFound    = errors.New("challenge not found")
	ErrExpired     = errors.New("challenge expired")
	ErrMismatch    = errors.New("challenge secret mismatch")
	ErrExhausted   = errors.New("challenge attempts exhausted")
	ErrUnavailable = errors.New("challenge store unavailable")
)

// issueLua atomically replaces the outstanding challenge for a subject and
// context.
// KEYS[1] = pointer key
// KEYS[2] = new record key
// ARGV[1] = new challenge id
// ARGV[2] = encoded record
// ARGV[3] = ttl in milliseconds
// ARGV[4] = record key prefix
//
// Returns the replaced challenge id, or an empty string.
var issueLua = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
if prev then
  redis.call('DEL', ARGV[4] .. prev)
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
if prev then
  return prev
end
return ''
`)

// resolveLua runs one verification step against a record.
// KEYS[1] = record key
// ARGV[1] = op: "check" (compare secret hash), "fail" (record one failure),
//
//	"take" (consume unconditionally)
//
// ARGV[2] = now in unix milliseconds
// ARGV[3] = provided hash (32 bytes, "check" only)
//
// Returns:
//
//	record bytes when consumed
//	error string: "not_found", "expired", "mismatch", "exhausted"
var resolveLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

if string.byte(data, 1) ~= 1 or string.len(data) < 45 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 3) * 256 + string.byte(data, 4)

local expiresAt = 0
for i = 5, 12 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

local now = tonumber(ARGV[2])
if now > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local op = ARGV[1]
if op == 'take' then
  redis.call('DEL', KEYS[1])
  return data
end

if op == 'check' then
  local hasSecret = string.byte(data, 13)
  local storedHash = string.sub(data, 14, 45)
  if hasSecret == 1 and storedHash == ARGV[3] then
    redis.call('DEL', KEYS[1])
    return data
  end
end

attempts = attempts - 1
if attempts <= 0 then
  redis.call('DEL', KEYS[1])
  return {err='exhausted'}
end

local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local newData = string.sub(data, 1, 2) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 5)
redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
return {err='mismatch'}
`)

// Record is a single outstanding challenge.
type Record struct {
	ID         string
	Subject    string
	Kind       uint8
	Context    string
	Role       string
	HasSecret  bool
	SecretHash [32]byte
	State      []byte
	// Attempts is the number of verification attempts remaining.
	Attempts  uint16
	ExpiresAt int64 // unix milliseconds
	CreatedAt int64 // unix milliseconds
}

// Expired reports whether the record is past its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAt
}

// Store persists challenges in Redis. Records live under
// <prefix>:c:<id>; the outstanding id for a subject and context lives under
// <prefix>:p:<context>:<subject>.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a challenge store. A nil clock uses time.Now.
func NewStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "mfc"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *Store) recordPrefix() string {
	return s.prefix + ":c:"
}

func (s *Store) recordKey(id string) string {
	return s.recordPrefix() + id
}

func (s *Store) pointerKey(subject, context string) string {
	return s.prefix + ":p:" + context + ":" + subject
}

// Issue stores rec and makes it the only outstanding challenge for its
// subject and context. It returns the id of the replaced challenge, if any.
func (s *Store) Issue(ctx context.Context, rec *Record, ttl time.Duration) (string, error) {
	if rec == nil || rec.ID == "" || rec.Subject == "" || rec.Context == "" {
		return "", errors.New("challenge record is incomplete")
	}
	if ttl <= 0 {
		return "", errors.New("challenge ttl must be > 0")
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	prev, err := issueLua.Run(ctx, s.redis,
		[]string{s.pointerKey(rec.Subject, rec.Context), s.recordKey(rec.ID)},
		rec.ID,
		string(encoded),
		ttl.Milliseconds(),
		s.recordPrefix(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return prev, nil
}

// Get loads a record by id. Expired records are deleted and reported as
// ErrExpired.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec.ID = id

	if rec.Expired(s.now()) {
		_ = s.redis.Del(ctx, s.recordKey(id)).Err()
		return nil, ErrExpired
	}
	return rec, nil
}

// Lookup returns the outstanding challenge for subject and context.
func (s *Store) Lookup(ctx context.Context, subject, context string) (*Record, error) {
	id, err := s.redis.Get(ctx, s.pointerKey(subject, context)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s.Get(ctx, id)
}

// Verify compares provided against the stored secret hash. A match consumes
// the record. A mismatch spends one attempt; the last attempt deletes the
// record and returns ErrExhausted instead of ErrMismatch.
func (s *Store) Verify(ctx context.Context, id string, provided [32]byte) (*Record, error) {
	rec, err := s.resolve(ctx, id, "check", provided[:])
	if err != nil {
		return nil, err
	}

	// Lua string comparison is not constant time; confirm here.
	if !rec.HasSecret || subtle.ConstantTimeCompare(rec.SecretHash[:], provided[:]) != 1 {
		return nil, ErrMismatch
	}
	return rec, nil
}

// Fail spends one attempt on a challenge whose value was checked outside
// the store. It returns ErrMismatch while attempts remain and ErrExhausted
// once the last attempt is spent.
func (s *Store) Fail(ctx context.Context, id string) error {
	_, err := s.resolve(ctx, id, "fail", nil)
	if err == nil {
		return ErrMismatch
	}
	return err
}

// Take consumes the record regardless of its content. It is the single-use
// gate for WebAuthn ceremony state and for externally verified values.
func (s *Store) Take(ctx context.Context, id string) (*Record, error) {
	return s.resolve(ctx, id, "take", nil)
}

// Delete removes the record if it still exists.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.recordKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) resolve(ctx context.Context, id, op string, provided []byte) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	result, err := resolveLua.Run(ctx, s.redis,
		[]string{s.recordKey(id)},
		op,
		s.now().UnixMilli(),
		string(provided),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrNotFound
		case "expired":
			return nil, ErrExpired
		case "mismatch":
			return nil, ErrMismatch
		case "exhausted":
			return nil, ErrExhausted
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}

	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec.ID = id
	return rec, nil
}

func encodeRecord(rec *Record) ([]byte, error) {
	if len(rec.Subject) > 65535 {
		return nil, errors.New("challenge subject too long")
	}
	if len(rec.Context) > 255 || len(rec.Role) > 255 {
		return nil, errors.New("challenge context or role too long")
	}

	var buf bytes.Buffer
	buf.Grow(fixedHeaderLen + 8 + len(rec.Subject) + len(rec.Context) + len(rec.Role) + len(rec.State) + 8)

	buf.WriteByte(recordVersionV1)
	buf.WriteByte(rec.Kind)
	_ = binary.Write(&buf, binary.BigEndian, rec.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, rec.ExpiresAt)
	if rec.HasSecret {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(rec.SecretHash[:])

	_ = binary.Write(&buf, binary.BigEndian, rec.CreatedAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(rec.Subject)))
	buf.WriteString(rec.Subject)
	buf.WriteByte(byte(len(rec.Context)))
	buf.WriteString(rec.Context)
	buf.WriteByte(byte(len(rec.Role)))
	buf.WriteString(rec.Role)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(rec.State)))
	buf.Write(rec.State)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	if len(data) < fixedHeaderLen {
		return nil, errors.New("challenge record truncated")
	}
	reader := bytes.NewReader(data)

	version, _ := reader.ReadByte()
	if version != recordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	rec := &Record{}
	rec.Kind, _ = reader.ReadByte()
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	hasSecret, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec.HasSecret = hasSecret == 1
	if _, err := io.ReadFull(reader, rec.SecretHash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &rec.CreatedAt); err != nil {
		return nil, err
	}

	var subjectLen uint16
	if err := binary.Read(reader, binary.BigEndian, &subjectLen); err != nil {
		return nil, err
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, err
	}
	rec.Subject = string(subject)

	if rec.Context, err = readShortString(reader); err != nil {
		return nil, err
	}
	if rec.Role, err = readShortString(reader); err != nil {
		return nil, err
	}

	var stateLen uint32
	if err := binary.Read(reader, binary.BigEndian, &stateLen); err != nil {
		return nil, err
	}
	if int64(stateLen) > int64(reader.Len()) {
		return nil, errors.New("challenge state truncated")
	}
	if stateLen > 0 {
		rec.State = make([]byte, stateLen)
		if _, err := io.ReadFull(reader, rec.State); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
