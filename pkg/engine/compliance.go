package engine

// ComplianceStatus derives the compliance of a resource from its persisted operational fields.
// It returns false for orphans: an orphaned resource has no status and must not be part of the live model.
func ComplianceStatus(
	isOrphan bool,
	isUndefined bool,
	lastDeployedHash *string,
	currentHash string,
	lastRunCompliant bool,
) (Compliance, bool) {
	switch {
	case isOrphan:
		return "", false
	case isUndefined:
		return ComplianceUndefined, true
	case lastDeployedHash == nil || *lastDeployedHash != currentHash:
		return ComplianceHasUpdate, true
	case lastRunCompliant:
		return ComplianceCompliant, true
	default:
		return ComplianceNonCompliant, true
	}
}
