// Package paths centralizes the on-disk layout of the kiln data directory.
package paths

import (
	"os"
	"path/filepath"
)

// Paths resolves locations inside the data directory.
//
// Layout:
//
//	<dataDir>/layers/<hex>/            cached layer snapshots
//	<dataDir>/staging/                 in-flight build output
//	<dataDir>/images/<id>/             assembled image descriptors
//	<dataDir>/builds/<id>/             build records and logs
//	<dataDir>/instances/<id>/          supervised instance state and logs
type Paths struct {
	dataDir string
}

// New creates a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// LayersDir returns the layer cache directory.
func (p *Paths) LayersDir() string {
	return filepath.Join(p.dataDir, "layers")
}

// StagingDir returns the directory for in-flight build output.
func (p *Paths) StagingDir() string {
	return filepath.Join(p.dataDir, "staging")
}

// ImagesDir returns the image store directory.
func (p *Paths) ImagesDir() string {
	return filepath.Join(p.dataDir, "images")
}

// ImageDir returns the directory for a single image.
func (p *Paths) ImageDir(id string) string {
	return filepath.Join(p.ImagesDir(), id)
}

// ImageMeta returns the path to an image's descriptor file.
func (p *Paths) ImageMeta(id string) string {
	return filepath.Join(p.ImageDir(id), "descriptor.json")
}

// BuildsDir returns the build records directory.
func (p *Paths) BuildsDir() string {
	return filepath.Join(p.dataDir, "builds")
}

// BuildDir returns the directory for a single build.
func (p *Paths) BuildDir(id string) string {
	return filepath.Join(p.BuildsDir(), id)
}

// BuildMeta returns the path to a build's record file.
func (p *Paths) BuildMeta(id string) string {
	return filepath.Join(p.BuildDir(id), "build.json")
}

// BuildLog returns the path to a build's log file.
func (p *Paths) BuildLog(id string) string {
	return filepath.Join(p.BuildDir(id), "build.log")
}

// InstancesDir returns the instances directory.
func (p *Paths) InstancesDir() string {
	return filepath.Join(p.dataDir, "instances")
}

// InstanceDir returns the directory for a single instance.
func (p *Paths) InstanceDir(id string) string {
	return filepath.Join(p.InstancesDir(), id)
}

// InstanceLog returns the path to an instance's captured output.
func (p *Paths) InstanceLog(id string) string {
	return filepath.Join(p.InstanceDir(id), "console.log")
}

// EnsureDirs creates the top-level directories.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{
		p.LayersDir(),
		p.StagingDir(),
		p.ImagesDir(),
		p.BuildsDir(),
		p.InstancesDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
