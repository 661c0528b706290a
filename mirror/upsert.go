package mirror

import (
	"github.com/zllovesuki/stripemirror/external"

	extErrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RelationSet carries the references resolved out of a payload. Nil means
// the relation is absent.
type RelationSet struct {
	CustomerID *string
	PlanID     *string
	InvoiceID  *string
	TransferID *string
	AccountID  *string
	SourceID   *string
}

// syncable is implemented by every model the mirror writes from a payload
type syncable interface {
	// applyRemote overwrites the remotely owned fields from obj and rel
	applyRemote(obj external.Object, rel RelationSet)
	// remoteColumns are the columns overwritten when the row already exists
	remoteColumns() []string
}

// upsert writes one row for obj. An existing row keeps its local-only
// columns; everything in remoteColumns is overwritten.
func upsert[T any, PT interface {
	*T
	syncable
}](tx *gorm.DB, obj external.Object, rel RelationSet) (*T, error) {
	id := obj.ID()
	if id == "" {
		return nil, ErrMissingID
	}
	row := PT(new(T))
	row.applyRemote(obj, rel)

	columns := append(row.remoteColumns(), "updated_at")
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row)
	if result.Error != nil {
		return nil, extErrors.Wrapf(result.Error, "Cannot upsert %s %s", obj.Kind(), id)
	}

	stored := new(T)
	if err := tx.Where("id = ?", id).First(stored).Error; err != nil {
		return nil, extErrors.Wrapf(err, "Cannot reload %s %s", obj.Kind(), id)
	}
	return stored, nil
}
