// Пакет access — единый предикат видимости и владения файлами.
// Все пути чтения и изменения используют эти функции, а не
// проверяют поля записи самостоятельно.
//
// Правила:
//   - запись видна субъекту, если она PUBLIC или субъект — её владелец;
//   - изменять и удалять запись может только владелец;
//   - невидимая запись для субъекта не существует (NotFound, не Forbidden).
package access

import "github.com/bigkaa/goartstore/blob-module/internal/domain/model"

// Decision — результат проверки доступа к записи.
type Decision int

const (
	// Hidden — запись отсутствует или не видна субъекту.
	Hidden Decision = iota
	// ReadOnly — запись видна, но субъект не владелец.
	ReadOnly
	// Owner — субъект является владельцем записи.
	Owner
)

// CanView сообщает, видна ли запись субъекту callerID.
func CanView(rec *model.FileRecord, callerID string) bool {
	if rec == nil {
		return false
	}
	return rec.Visibility == model.VisibilityPublic || rec.OwnerID == callerID
}

// CanMutate сообщает, может ли субъект изменять или удалять запись.
func CanMutate(rec *model.FileRecord, callerID string) bool {
	return rec != nil && callerID != "" && rec.OwnerID == callerID
}

// Decide классифицирует доступ субъекта к записи.
func Decide(rec *model.FileRecord, callerID string) Decision {
	switch {
	case !CanView(rec, callerID):
		return Hidden
	case CanMutate(rec, callerID):
		return Owner
	default:
		return ReadOnly
	}
}
