package domain

type UserID string

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleGroupAdmin Role = "group-admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleGroupAdmin:
		return true
	}
	return false
}

// Identity is a verified user. The store holds the authoritative copy; a
// connection keeps the snapshot it was admitted with for its whole life.
type Identity struct {
	ID    UserID `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanCreateGroups reports whether the identity may open new groups.
func (i Identity) CanCreateGroups() bool {
	return i.Role == RoleAdmin || i.Role == RoleGroupAdmin
}

type CredentialSource string

const (
	CredentialCookie CredentialSource = "cookie"
	CredentialHeader CredentialSource = "header"
	CredentialQuery  CredentialSource = "query"
)

// Credential is the session token presented during the connection handshake.
type Credential struct {
	Token  string
	Source CredentialSource
}

func (c Credential) Empty() bool {
	return c.Token == ""
}
