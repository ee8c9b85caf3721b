package types

import (
	"encoding/json"
	"fmt"
)

// Version is an interface version, encoded on the wire as
// [major, minor, revision].
type Version struct {
	Major    int
	Minor    int
	Revision int
}

// InterfaceVersion is the compiled-in parameter interface version. A
// command is accepted only if its major component matches.
var InterfaceVersion = Version{Major: 1, Minor: 0, Revision: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Array returns the wire form of v.
func (v Version) Array() []int { return []int{v.Major, v.Minor, v.Revision} }

func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Array())
}

func (v *Version) UnmarshalJSON(b []byte) error {
	var a []int
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	if len(a) != 3 {
		return fmt.Errorf("version must have 3 elements, got %d", len(a))
	}
	v.Major, v.Minor, v.Revision = a[0], a[1], a[2]
	return nil
}
