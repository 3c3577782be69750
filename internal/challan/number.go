package challan

import (
	"fmt"
	"time"

	"textbook-backend/internal/models"

	"gorm.io/gorm"
)

// ScopeKey identifies one numbering sequence: documents issued by the same
// tier to the same receiver on the same day count up together.
func ScopeKey(source models.Level, destOwner string, day time.Time) string {
	return fmt.Sprintf("%s/%s/%s", source, destOwner, day.Format("20060102"))
}

// NextSequence bumps and returns the counter for a scope. Must run inside the
// issuing transaction; the guarded update takes the row lock, so two documents
// issued the same second get distinct numbers.
func NextSequence(tx *gorm.DB, scopeKey string) (int64, error) {
	res := tx.Model(&models.ChallanSequence{}).
		Where("scope_key = ?", scopeKey).
		Update("last_seq", gorm.Expr("last_seq + 1"))
	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		seq := models.ChallanSequence{ScopeKey: scopeKey, LastSeq: 1}
		if err := tx.Create(&seq).Error; err != nil {
			// Lost the create race on the unique scope key; the row exists
			// now, bump it instead.
			retry := tx.Model(&models.ChallanSequence{}).
				Where("scope_key = ?", scopeKey).
				Update("last_seq", gorm.Expr("last_seq + 1"))
			if retry.Error != nil {
				return 0, retry.Error
			}
			if retry.RowsAffected == 0 {
				return 0, fmt.Errorf("challan sequence %s unavailable", scopeKey)
			}
		} else {
			return 1, nil
		}
	}

	var row models.ChallanSequence
	if err := tx.Where("scope_key = ?", scopeKey).First(&row).Error; err != nil {
		return 0, err
	}
	return row.LastSeq, nil
}

// FormatChallanNo renders CH/<SOURCE LEVEL>/<DEST OWNER>/<YYYYMMDD>/<SEQ>.
// The number alone tells an auditor the issuing tier, the receiver and the
// date.
func FormatChallanNo(source models.Level, destOwner string, day time.Time, seq int64) string {
	return fmt.Sprintf("CH/%s/%s/%s/%04d", source, destOwner, day.Format("20060102"), seq)
}
