package domain

// ArchiveKind is the granularity of a GDELT archive
type ArchiveKind string

const (
	KindDaily   ArchiveKind = "daily"
	KindMonthly ArchiveKind = "monthly"
	KindYearly  ArchiveKind = "yearly"
)

// IsBackfile reports whether the kind is one of the historical backfile kinds.
func (k ArchiveKind) IsBackfile() bool {
	return k == KindMonthly || k == KindYearly
}
