//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"

	"github.com/spaghettifunk/dozen/engine/renderer/meta"
)

type Build mg.Namespace

// Compiles every meta kernel variant and writes the SPIR-V modules to build/shaders.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the demo binary into build/dozen.
func (Build) Demo() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("build", "dozen"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Tidies the module and vets every package.
func Tidy() error {
	return goTidy()
}

func buildShaders() error {
	out := filepath.Join("build", "shaders")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, k := range meta.AllKeys() {
		spirv, err := meta.CompileWGSL(meta.Source(k))
		if err != nil {
			return fmt.Errorf("%s: %w", k.Label(), err)
		}
		data := make([]byte, len(spirv)*4)
		for i, w := range spirv {
			data[i*4] = byte(w)
			data[i*4+1] = byte(w >> 8)
			data[i*4+2] = byte(w >> 16)
			data[i*4+3] = byte(w >> 24)
		}
		path := filepath.Join(out, k.Label()+".spv")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		if mg.Verbose() {
			fmt.Printf("compiled %s (%d words)\n", path, len(spirv))
		}
	}
	return nil
}
