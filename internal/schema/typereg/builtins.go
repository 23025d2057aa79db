package typereg

import (
	"regexp"

	"github.com/google/uuid"
)

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// Well-known validators shared by definition dumps and the HTTP API.
var (
	ObjectIDValidator = NewValidator("objectId", func(v any) bool {
		s, ok := v.(string)
		return ok && objectIDPattern.MatchString(s)
	})
	DecimalValidator = NewValidator("decimal", nil)
	UUIDValidator    = NewValidator("uuid", func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(s)
		return err == nil
	})
	LongValidator      = NewValidator("long", nil)
	TimestampValidator = NewValidator("timestamp", nil)
)

// Builtins returns a new registry holding the well-known custom types
func Builtins() *Registry {
	return New().
		Register("objectId", Entry{Validator: ObjectIDValidator, StorageType: ObjectID}).
		Register("decimal", Entry{Validator: DecimalValidator, StorageType: Decimal}).
		Register("uuid", Entry{Validator: UUIDValidator, StorageType: BinData}).
		Register("long", Entry{Validator: LongValidator, StorageType: Long}).
		Register("timestamp", Entry{Validator: TimestampValidator, StorageType: Timestamp})
}
