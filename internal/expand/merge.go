package expand

import "expandable/pkg/domain"

// Merge decodes rows through pipeline and sets each onto record's attribute
// map, overwriting attributes of the same name. Rows owned by another
// record are skipped.
func Merge(record *domain.HostRecord, rows []domain.AttributeRow, pipeline *Pipeline) *domain.HostRecord {
	if record == nil {
		return nil
	}
	if record.Attributes == nil {
		record.Attributes = domain.NewAttributes()
	}
	for _, row := range rows {
		if row.OwnerID != "" && row.OwnerID != record.ID {
			continue
		}
		record.Attributes.Set(row.Key, pipeline.Decode(row.Key, row.Value))
	}
	return record
}
