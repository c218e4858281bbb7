package linker

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/syfchao/mclinker/pkg/utils"
)

const archiveMagic = "!<arch>\n"

// ArchiveMember is one file carved out of a static archive; Offset is
// the member's data offset inside the archive file.
type ArchiveMember struct {
	Name    string
	Offset  uint64
	Content []byte
}

// ReadArchiveMembers walks a !<arch> file and returns every regular
// member, ELF or not. The symbol index and the long-name table are
// consumed, not returned.
func ReadArchiveMembers(file *File) ([]ArchiveMember, error) {
	if !bytes.HasPrefix(file.Content, []byte(archiveMagic)) {
		return nil, errors.Errorf("%s is not an archive", file.Name)
	}

	var members []ArchiveMember
	var strTab []byte
	pos := len(archiveMagic)
	for len(file.Content)-pos >= AhdrSize {
		if pos%2 == 1 {
			pos++
		}
		var hdr ArHdr
		utils.Read[ArHdr](binary.LittleEndian, file.Content[pos:], &hdr)
		dataStart := pos + AhdrSize
		size := hdr.GetSize()
		dataEnd := dataStart + size
		if dataEnd > len(file.Content) {
			return nil, errors.Errorf("%s: truncated archive member", file.Name)
		}
		body := file.Content[dataStart:dataEnd]

		switch {
		case hdr.IsSymtab():
			// linker-made index; member resolution is driven by the
			// symbol resolver instead
		case hdr.IsStrTab():
			strTab = body
		default:
			members = append(members, ArchiveMember{
				Name:    hdr.ReadName(strTab),
				Offset:  uint64(dataStart),
				Content: body,
			})
		}
		pos = dataEnd
	}
	return members, nil
}
