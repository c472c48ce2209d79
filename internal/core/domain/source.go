package domain

import "time"

// SourceKind identifies the wire protocol/driver family of a SourceDatabase.
type SourceKind string

const (
	SourceKindMySQL      SourceKind = "MYSQL"
	SourceKindPostgreSQL SourceKind = "POSTGRESQL"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindMySQL, SourceKindPostgreSQL:
		return true
	default:
		return false
	}
}

// SourceDatabase is a connection descriptor for one queryable source. The
// password is stored encrypted by the storage layer; this struct carries
// the decrypted value only while held in memory by the Source Registry.
type SourceDatabase struct {
	ID       string     `json:"id" db:"id"`
	Code     string     `json:"dbCode" db:"db_code" validate:"required,min=1,max=64"`
	Kind     SourceKind `json:"kind" db:"kind" validate:"required"`
	Host     string     `json:"host" db:"host" validate:"required"`
	Port     int        `json:"port" db:"port" validate:"required,gt=0,lte=65535"`
	Database string     `json:"database" db:"database" validate:"required"`
	Username string     `json:"username" db:"username" validate:"required"`
	Password string     `json:"-" db:"password" validate:"required"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
