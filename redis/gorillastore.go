package redis

// LICENSE MIT
// The store shape follows https://github.com/rbcervilla/redisstore with the
// session encryption from boj/redistore layered on via securecookie codecs.

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/gob"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	webSessionKeyPrefix = "websession:"
	webSessionMaxSize   = 1024 * 16
	storeCallTimeout    = 10 * time.Second
)

// GorillaStore persists gorilla web sessions through the CacheClient, so
// they ride the same pool, breaker and namespace as every other cache
// access.
type GorillaStore struct {
	client *CacheClient

	Codecs []securecookie.Codec
	// default Options applied to newly created sessions
	Options   sessions.Options
	MaxLength int

	keyPrefix  string
	keyGen     KeyGenFunc
	serialiser SessionSerialiser
}

// KeyGenFunc generates the backend key for a new session.
type KeyGenFunc func() (string, error)

// NewGorillaStore wraps an existing CacheClient as a gorilla session store.
// keyPairs are the securecookie authentication and encryption keys.
func NewGorillaStore(client *CacheClient, keyPairs ...[]byte) *GorillaStore {
	return &GorillaStore{
		client: client,
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: sessions.Options{
			Path:   "/",
			MaxAge: 86400 * 30,
		},
		MaxLength:  webSessionMaxSize,
		keyPrefix:  webSessionKeyPrefix,
		keyGen:     generateRandomKey,
		serialiser: GobSerialiser{},
	}
}

// Get returns a session for the given name after adding it to the registry.
func (s *GorillaStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New returns a session for the given name without adding it to the registry.
func (s *GorillaStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	session.ID = c.Value

	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	found, err := s.load(ctx, session)
	if err != nil {
		return session, err
	}
	session.IsNew = !found
	return session, nil
}

// Save adds a single session to the response.
//
// A session with Options.MaxAge <= 0 is deleted from the backend and the
// cookie expired, so logout does not rely on browser cookie handling.
func (s *GorillaStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	if session.Options.MaxAge <= 0 {
		if _, err := s.client.Del(ctx, s.keyPrefix+session.ID); err != nil {
			return err
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		id, err := s.keyGen()
		if err != nil {
			return errors.New("gorillastore: failed to generate session id")
		}
		session.ID = id
	}

	if err := s.save(ctx, session); err != nil {
		return err
	}

	http.SetCookie(w, sessions.NewCookie(session.Name(), session.ID, session.Options))
	return nil
}

// KeyPrefix overrides the backend key prefix.
func (s *GorillaStore) KeyPrefix(keyPrefix string) {
	s.keyPrefix = keyPrefix
}

// KeyGen overrides the key generator.
func (s *GorillaStore) KeyGen(f KeyGenFunc) {
	s.keyGen = f
}

// Serialiser overrides the session serialiser.
func (s *GorillaStore) Serialiser(ss SessionSerialiser) {
	s.serialiser = ss
}

func (s *GorillaStore) save(ctx context.Context, session *sessions.Session) error {
	b, err := s.serialiser.Serialise(session)
	if err != nil {
		return err
	}
	if s.MaxLength != 0 && len(b) > s.MaxLength {
		return errors.New("gorillastore: the value to store is too big")
	}
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	return s.client.Set(ctx, s.keyPrefix+session.ID, string(b), ttl)
}

func (s *GorillaStore) load(ctx context.Context, session *sessions.Session) (bool, error) {
	value, found, err := s.client.Get(ctx, s.keyPrefix+session.ID)
	if err != nil || !found {
		return false, err
	}
	return true, s.serialiser.Deserialise([]byte(value), session)
}

// SessionSerialiser serialises gorilla session values for storage.
type SessionSerialiser interface {
	Serialise(s *sessions.Session) ([]byte, error)
	Deserialise(b []byte, s *sessions.Session) error
}

// GobSerialiser is the default serialiser.
type GobSerialiser struct{}

func (gs GobSerialiser) Serialise(s *sessions.Session) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := gob.NewEncoder(buf)
	err := enc.Encode(s.Values)
	if err == nil {
		return buf.Bytes(), nil
	}
	return nil, err
}

func (gs GobSerialiser) Deserialise(d []byte, s *sessions.Session) error {
	dec := gob.NewDecoder(bytes.NewBuffer(d))
	return dec.Decode(&s.Values)
}

// generateRandomKey returns a new random session key.
func generateRandomKey() (string, error) {
	k := make([]byte, 64)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return strings.TrimRight(base32.StdEncoding.EncodeToString(k), "="), nil
}
