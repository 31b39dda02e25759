package core

import (
	"encoding/json"
	"errors"
	"sort"
)

// Outcome is the authentication outcome carried by a record.
type Outcome int

// OutcomeSuccess is the only outcome an AuthRecord can hold; failures never reach the adapter.
const OutcomeSuccess Outcome = 1

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "SUCCESS"
	}
	return "UNKNOWN"
}

// Permission is an object/action pair understood by the Authorizer.
type Permission struct {
	Object string `json:"object"`
	Action string `json:"action"`
}

// AuthenticationInfo is the view a realm cache needs to re-verify a login.
type AuthenticationInfo interface {
	Principal() string
	RealmName() string
	Credential() (SaltedHash, bool)
	Outcome() Outcome
}

// AuthorizationInfo is the view handed to access-control decisions.
// A false second return means the source does not supply that data.
type AuthorizationInfo interface {
	Roles() []string
	StringPermissions() ([]string, bool)
	ObjectPermissions() ([]Permission, bool)
}

// CacheKey identifies a record in a realm cache.
type CacheKey struct {
	Realm     string
	Principal string
}

// AuthRecord is the internal representation of a successful plugin login.
// It is immutable after construction and safe for concurrent reads.
type AuthRecord struct {
	principal  string
	realm      string
	roles      map[string]struct{}
	credential *SaltedHash
}

var (
	_ AuthenticationInfo = (*AuthRecord)(nil)
	_ AuthorizationInfo  = (*AuthRecord)(nil)
)

// NewAuthRecord wraps info without retaining any credential.
func NewAuthRecord(info AuthInfo, realmName string) *AuthRecord {
	return &AuthRecord{
		principal: info.Principal(),
		realm:     realmName,
		roles:     roleSet(info.Roles()),
	}
}

// NewCacheableAuthRecord hashes the credentials of a CacheableAuthInfo and keeps only the
// salted hash. Other results are wrapped exactly like NewAuthRecord.
func NewCacheableAuthRecord(info AuthInfo, realmName string, hasher Hasher) (*AuthRecord, error) {
	cacheable, ok := info.(CacheableAuthInfo)
	if !ok {
		return NewAuthRecord(info, realmName), nil
	}
	creds := cacheable.Credentials()
	hashed, err := hasher.Hash(creds)
	clear(creds)
	if err != nil {
		return nil, err
	}
	rec := NewAuthRecord(info, realmName)
	rec.credential = &hashed
	return rec, nil
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func (r *AuthRecord) Principal() string { return r.principal }
func (r *AuthRecord) RealmName() string { return r.realm }
func (r *AuthRecord) Outcome() Outcome  { return OutcomeSuccess }

// Roles returns a sorted copy of the role set.
func (r *AuthRecord) Roles() []string {
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// HasRole reports whether role was granted.
func (r *AuthRecord) HasRole(role string) bool {
	_, ok := r.roles[role]
	return ok
}

// Credential returns a copy of the hashed credential, if one was cached.
func (r *AuthRecord) Credential() (SaltedHash, bool) {
	if r.credential == nil {
		return SaltedHash{}, false
	}
	return r.credential.clone(), true
}

// StringPermissions always reports no data; permission resolution belongs to the Authorizer.
func (r *AuthRecord) StringPermissions() ([]string, bool) { return nil, false }

// ObjectPermissions always reports no data.
func (r *AuthRecord) ObjectPermissions() ([]Permission, bool) { return nil, false }

// CacheKey identifies the record by realm and principal only.
func (r *AuthRecord) CacheKey() CacheKey {
	return CacheKey{Realm: r.realm, Principal: r.principal}
}

type authRecordJSON struct {
	Principal  string      `json:"principal"`
	Realm      string      `json:"realm"`
	Roles      []string    `json:"roles"`
	Credential *SaltedHash `json:"credential,omitempty"`
	Outcome    string      `json:"outcome"`
}

// MarshalJSON encodes the record for cache storage.
func (r *AuthRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(authRecordJSON{
		Principal:  r.principal,
		Realm:      r.realm,
		Roles:      r.Roles(),
		Credential: r.credential,
		Outcome:    OutcomeSuccess.String(),
	})
}

// UnmarshalJSON decodes a cached record. Anything other than a success outcome is rejected.
func (r *AuthRecord) UnmarshalJSON(data []byte) error {
	var raw authRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Outcome != OutcomeSuccess.String() {
		return errors.New("cached record does not hold a successful authentication")
	}
	*r = AuthRecord{
		principal: raw.Principal,
		realm:     raw.Realm,
		roles:     roleSet(raw.Roles),
	}
	if raw.Credential != nil {
		c := raw.Credential.clone()
		r.credential = &c
	}
	return nil
}
