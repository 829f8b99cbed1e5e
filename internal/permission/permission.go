// Package permission implements the project-level capability bitmask carried by
// each membership. It is a pure encoding layer: it knows flag names and bit
// positions, nothing about users, companies, or projects.
//
// Submissions arrive as sparse field-presence maps (an HTML-form style payload
// where only ticked boxes appear). Decode treats absence as false and ignores
// unknown names, so old clients and new flags can coexist without errors.
package permission

// Set is a bitmask of project capabilities held by a member.
type Set uint16

const (
	// ManageMessages allows creating, editing, and deleting project messages.
	ManageMessages Set = 1 << iota
	// ManageTasks allows managing task lists and tasks.
	ManageTasks
	// ManageMilestones allows managing project milestones.
	ManageMilestones
	// ManageTime allows managing time records.
	ManageTime
	// UploadFiles allows uploading files to the project.
	UploadFiles
	// ManageFiles allows editing and deleting project files.
	ManageFiles
	// AssignToOwners allows assigning work to owner-company members.
	AssignToOwners
	// AssignToOthers allows assigning work to client-company members.
	AssignToOthers
)

// None is the baseline permission set: membership with no extra capabilities.
const None Set = 0

// All is every defined capability.
const All = ManageMessages | ManageTasks | ManageMilestones | ManageTime |
	UploadFiles | ManageFiles | AssignToOwners | AssignToOthers

// flagNames maps wire names to bits. The names match the original membership
// form fields so stored submissions stay readable.
var flagNames = []struct {
	name string
	bit  Set
}{
	{"can_manage_messages", ManageMessages},
	{"can_manage_tasks", ManageTasks},
	{"can_manage_milestones", ManageMilestones},
	{"can_manage_time", ManageTime},
	{"can_upload_files", UploadFiles},
	{"can_manage_files", ManageFiles},
	{"can_assign_to_owners", AssignToOwners},
	{"can_assign_to_other", AssignToOthers},
}

// Names returns the wire names of all defined flags, in bit order.
func Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		names = append(names, f.name)
	}
	return names
}

// Decode converts a sparse flag map into a Set. Flags absent from the map
// default to false; names that do not correspond to a known flag are ignored.
func Decode(fields map[string]bool) Set {
	var s Set
	for _, f := range flagNames {
		if fields[f.name] {
			s |= f.bit
		}
	}
	return s
}

// Encode is the inverse of Decode: a dense map with every known flag present.
func (s Set) Encode() map[string]bool {
	fields := make(map[string]bool, len(flagNames))
	for _, f := range flagNames {
		fields[f.name] = s&f.bit != 0
	}
	return fields
}

// Has reports whether every capability in want is present in s.
func (s Set) Has(want Set) bool {
	return s&want == want
}
