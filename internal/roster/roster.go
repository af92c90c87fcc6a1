package roster

import "strings"

// Person is one roster entry: a student or a staff member from either the
// dedicated roster source or the generic accounts directory.
type Person struct {
	ID           int64  `json:"id"`
	ExternalCode string `json:"external_code"`
	DisplayName  string `json:"display_name"`
	Email        string `json:"email"`
	LoginName    string `json:"login_name"`
	BranchID     int64  `json:"branch_id"`
	Role         string `json:"role"`

	FatherName    string `json:"father_name"`
	FatherPhoto   string `json:"father_photo"`
	MotherName    string `json:"mother_name"`
	MotherPhoto   string `json:"mother_photo"`
	GuardianName  string `json:"guardian_name"`
	GuardianPhoto string `json:"guardian_photo"`
}

// SameIdentity reports whether two records describe the same person.
//
// The check tries, in strict priority order: external code equality when both
// sides carry one, email equality when neither does, and raw id equality only
// when neither code nor email is usable. Two independently auto-incremented
// directories routinely hand out the same numeric id to different people, so
// the raw id is the key of last resort.
func SameIdentity(a, b Person) bool {
	if a.ExternalCode != "" && b.ExternalCode != "" {
		return strings.EqualFold(a.ExternalCode, b.ExternalCode)
	}
	if a.ExternalCode == "" && b.ExternalCode == "" {
		if a.Email != "" && b.Email != "" {
			return strings.EqualFold(a.Email, b.Email)
		}
		if a.Email == "" && b.Email == "" {
			return a.ID != 0 && b.ID != 0 && a.ID == b.ID
		}
	}
	return false
}

// hasIdentity reports whether the record carries any usable identity field.
func hasIdentity(p Person) bool {
	return p.ExternalCode != "" || p.Email != "" || p.ID != 0
}

// Merge combines the dedicated roster source with the accounts directory into
// one list, primary entries first, keeping only the first occurrence of each
// identity. Either input may be empty (a failed source contributes nothing).
// A record with no usable identity fields is always kept: it cannot be proven
// to duplicate anything.
func Merge(primary, secondary []Person) []Person {
	merged := make([]Person, 0, len(primary)+len(secondary))
	for _, p := range append(append([]Person{}, primary...), secondary...) {
		if !hasIdentity(p) {
			merged = append(merged, p)
			continue
		}
		dup := false
		for _, kept := range merged {
			if SameIdentity(kept, p) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, p)
		}
	}
	return merged
}
