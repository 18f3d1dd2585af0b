// Package model - Catalog of the face detection models shipped with OpenCV.
package model

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Family is the family of models.
type Family string

const (
	// FamilyHaar is the Viola-Jones Haar feature cascade family.
	FamilyHaar Family = "haar"
	// FamilyLBP is the local binary pattern cascade family.
	FamilyLBP Family = "lbp"
)

// Name is the unique identifier of a model.
type Name string

const (
	// NameHaarFrontalFaceDefault is OpenCV's default frontal face cascade.
	NameHaarFrontalFaceDefault Name = "haar-frontalface-default"
	// NameHaarFrontalFaceAlt is the alternative frontal face cascade.
	NameHaarFrontalFaceAlt Name = "haar-frontalface-alt"
	// NameHaarFrontalFaceAlt2 is the second alternative frontal face cascade.
	NameHaarFrontalFaceAlt2 Name = "haar-frontalface-alt2"
	// NameHaarFrontalFaceAltTree is the tree-based frontal face cascade.
	NameHaarFrontalFaceAltTree Name = "haar-frontalface-alt-tree"
	// NameLBPFrontalFace is the LBP frontal face cascade.
	NameLBPFrontalFace Name = "lbp-frontalface"
)

// DataDirEnv names the environment variable that points at a cascade directory.
const DataDirEnv = "OPENCV_DATA_DIR"

// ErrUnknownModel is returned for a model name missing from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Info describes a catalogued cascade.
type Info struct {
	Name     Name
	Family   Family
	Filename string
}

var catalog = map[Name]Info{
	NameHaarFrontalFaceDefault: {NameHaarFrontalFaceDefault, FamilyHaar, "haarcascade_frontalface_default.xml"},
	NameHaarFrontalFaceAlt:     {NameHaarFrontalFaceAlt, FamilyHaar, "haarcascade_frontalface_alt.xml"},
	NameHaarFrontalFaceAlt2:    {NameHaarFrontalFaceAlt2, FamilyHaar, "haarcascade_frontalface_alt2.xml"},
	NameHaarFrontalFaceAltTree: {NameHaarFrontalFaceAltTree, FamilyHaar, "haarcascade_frontalface_alt_tree.xml"},
	NameLBPFrontalFace:         {NameLBPFrontalFace, FamilyLBP, "lbpcascade_frontalface_improved.xml"},
}

// Lookup returns the catalog entry for name.
func Lookup(name Name) (Info, error) {
	info, ok := catalog[name]
	if !ok {
		return Info{}, errors.Wrapf(ErrUnknownModel, "%q", name)
	}
	return info, nil
}

// Names returns every catalogued model name, sorted.
func Names() []Name {
	names := make([]Name, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DefaultSearchDirs returns the directories OpenCV installs its cascades into, with
// $OPENCV_DATA_DIR first when it is set.
func DefaultSearchDirs() []string {
	dirs := make([]string, 0, 6)
	if dir := os.Getenv(DataDirEnv); dir != "" {
		dirs = append(dirs, dir)
	}
	return append(dirs,
		"/usr/share/opencv4/haarcascades",
		"/usr/local/share/opencv4/haarcascades",
		"/usr/share/opencv4/lbpcascades",
		"/usr/share/opencv/haarcascades",
		".",
	)
}

// ResolveCascadePath finds the cascade file for a model.
//
// Arguments:
//   - name: The catalogued model.
//   - explicit: A user supplied path. When non-empty it must exist and wins outright.
//   - dirs: Extra directories searched before DefaultSearchDirs().
//
// Returns:
//   - string: The path of an existing cascade file.
//   - error: If the name is unknown, the explicit path is missing, or no directory holds the file.
func ResolveCascadePath(name Name, explicit string, dirs []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrapf(err, "cascade %s", explicit)
		}
		return explicit, nil
	}

	info, err := Lookup(name)
	if err != nil {
		return "", err
	}

	searched := append(append([]string{}, dirs...), DefaultSearchDirs()...)
	for _, dir := range searched {
		path := filepath.Join(dir, info.Filename)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, nil
		}
	}
	return "", errors.Errorf("cascade %s for model %s not found in %v", info.Filename, name, searched)
}
