// Package diag carries the numeric-id diagnostic scheme of the linker.
// Every user-facing condition has a stable ID; text lives in one table.
package diag

import (
	"fmt"

	"go.uber.org/zap"
)

type ID int

// Diagnostic IDs, grouped the way the manual groups them: common kinds,
// symbol resolution, relocations, output.
const (
	// common kinds
	FileNotFound ID = iota
	NotAnELF
	WrongClass
	WrongEndian
	WrongMachine
	SectionOutOfRange
	MissingDynamicSection
	MissingDynamicString
	InvalidAttribute

	// symbol resolution
	UndefinedReference
	MultipleDefinition
	ReservedNameCollision
	CommonTLSUnsupported

	// relocations
	UnknownRelocation
	ResultOverflow
	ResultBadReloc
	ResultUnsupport
	NeedStub
	DynamicRelocationInInput
	InvalidGlobalRelocation
	ReserveEntryMismatch

	// output
	UnrecognizedOutputSection
	SectionMapDuplicate
	MipsGOTSymbolNotDynamic

	NumOfDiagnostics
)

var messages = map[ID]string{
	FileNotFound:              "cannot open input file",
	NotAnELF:                  "file is not an ELF object",
	WrongClass:                "ELF class mismatches the target",
	WrongEndian:               "ELF data encoding mismatches the target",
	WrongMachine:              "ELF machine mismatches the target",
	SectionOutOfRange:         "section contents lie outside the file",
	MissingDynamicSection:     "shared object has no .dynamic section",
	MissingDynamicString:      "shared object has no .dynstr section",
	InvalidAttribute:          "conflicting input attributes",
	UndefinedReference:        "undefined reference",
	MultipleDefinition:        "multiple definition",
	ReservedNameCollision:     "user symbol collides with a reserved name",
	CommonTLSUnsupported:      "thread-local common symbols are not supported",
	UnknownRelocation:         "unknown relocation type",
	ResultOverflow:            "applying relocation causes overflow",
	ResultBadReloc:            "relocation encounters unexpected opcode",
	ResultUnsupport:           "unsupported relocation",
	NeedStub:                  "branch target needs a stub",
	DynamicRelocationInInput:  "dynamic-only relocation appears in input",
	InvalidGlobalRelocation:   "relocation is invalid against a global symbol",
	ReserveEntryMismatch:      "reserved entry number mismatch",
	UnrecognizedOutputSection: "unrecognized output section",
	SectionMapDuplicate:       "duplicate entry in section map",
	MipsGOTSymbolNotDynamic:   "global GOT symbol is not a dynamic symbol",
}

func (i ID) String() string {
	if msg, ok := messages[i]; ok {
		return msg
	}
	return fmt.Sprintf("diagnostic %d", int(i))
}

// Engine counts errors and routes diagnostics to the process logger.
// Fatal terminates the link; Error lets the caller decide.
type Engine struct {
	log    *zap.Logger
	errors int
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

func (e *Engine) Logger() *zap.Logger {
	return e.log
}

func (e *Engine) Error(id ID, fields ...zap.Field) {
	e.errors++
	e.log.Error(id.String(), append(fields, zap.Int("diag", int(id)))...)
}

func (e *Engine) Fatal(id ID, fields ...zap.Field) {
	e.log.Fatal(id.String(), append(fields, zap.Int("diag", int(id)))...)
}

// Errorf wraps a diagnostic into an error value for phases that return
// errors instead of terminating on the spot.
func (e *Engine) Errorf(id ID, format string, args ...any) error {
	e.errors++
	err := fmt.Errorf("%s: %s", id.String(), fmt.Sprintf(format, args...))
	e.log.Error(err.Error(), zap.Int("diag", int(id)))
	return err
}

func (e *Engine) ErrorCount() int {
	return e.errors
}
