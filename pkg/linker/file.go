package linker

import (
	"github.com/spf13/afero"
)

type File struct {
	Name    string
	Content []byte
	Parent  *File
}

func NewFile(fs afero.Fs, filename string) (*File, error) {
	content, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}
	return &File{
		Name:    filename,
		Content: content,
	}, nil
}

func NewFileNoFatal(fs afero.Fs, filename string) *File {
	content, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil
	}
	return &File{
		Name:    filename,
		Content: content,
	}
}
