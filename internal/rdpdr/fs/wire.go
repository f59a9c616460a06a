package fs

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf16"

	"github.com/rdpengine/core/internal/engineerr"
)

// IoRequest is the DR_DEVICE_IOREQUEST header fields the rdpdr channel mux
// has already decoded before handing a filesystem IRP to this package.
// MajorFunction/MinorFunction are carried as raw MS-RDPEFS values (rather
// than importing package rdpdr's typed constants) to avoid an import
// cycle: package rdpdr's channel mux is what constructs an IoRequest and
// calls into this package, so fs cannot import rdpdr in return.
type IoRequest struct {
	DeviceID      uint32
	FileID        uint32
	CompletionID  uint32
	MajorFunction uint32
	MinorFunction uint32
}

// Status mirrors the subset of MS-ERREF NTSTATUS codes this package's
// operations can produce (duplicated from package rdpdr's NTSTATUS for the
// same import-cycle reason as IoRequest).
type Status uint32

const (
	StatusSuccess             Status = 0x00000000
	StatusUnsuccessful        Status = 0xC0000001
	StatusNoMoreFiles         Status = 0x80000006
	StatusObjectNameCollision Status = 0xC0000035
	StatusAccessDenied        Status = 0xC0000022
	StatusNotADirectory       Status = 0xC0000103
	StatusNoSuchFile          Status = 0xC000000F
	StatusDirectoryNotEmpty   Status = 0xC0000101
)

// CreateDisposition values (MS-SMB2 2.2.13, carried verbatim into
// MS-RDPEFS's DR_CREATE_REQ).
const (
	FileSupersede   uint32 = 0x00000000
	FileOpen        uint32 = 0x00000001
	FileCreate      uint32 = 0x00000002
	FileOpenIf      uint32 = 0x00000003
	FileOverwrite   uint32 = 0x00000004
	FileOverwriteIf uint32 = 0x00000005
)

// CreateOptions bits this package branches on.
const (
	FileDirectoryFile    uint32 = 0x00000001
	FileNonDirectoryFile uint32 = 0x00000040
)

// FileInformationClass levels this package can answer.
const (
	fileBasicInformation        uint32 = 4
	fileStandardInformation     uint32 = 5
	fileBothDirectoryInfo       uint32 = 3
	fileAttributeTagInformation uint32 = 35
	fileRenameInformation       uint32 = 10
	fileDispositionInformation  uint32 = 13
	fileEndOfFileInformation    uint32 = 20
	fileAllocationInformation   uint32 = 19
)

// FileSystemInformationClass levels this package can answer.
const (
	fileFsVolumeInformation    uint32 = 1
	fileFsSizeInformation      uint32 = 3
	fileFsDeviceInformation    uint32 = 4
	fileFsAttributeInformation uint32 = 5
	fileFsFullSizeInformation  uint32 = 7
)

// MS-RDPEFS major/minor IRP functions this package dispatches on
// (duplicated from package rdpdr's constants for the same import-cycle
// reason as IoRequest/Status).
const (
	mjCreate                 uint32 = 0x00000000
	mjClose                  uint32 = 0x00000002
	mjRead                   uint32 = 0x00000003
	mjWrite                  uint32 = 0x00000004
	mjQueryInformation       uint32 = 0x00000005
	mjSetInformation         uint32 = 0x00000006
	mjQueryVolumeInformation uint32 = 0x0000000A
	mjDirectoryControl       uint32 = 0x0000000C
	mjLockControl            uint32 = 0x00000011

	mnNotifyChangeDirectory uint32 = 0x00000002
)

func errTruncated(what string, err error) error {
	return engineerr.Wrap(engineerr.KindProtocol, "fs: truncated "+what, err)
}

func encodeUTF16(s string) []byte {
	buf := new(bytes.Buffer)
	for _, c := range utf16.Encode([]rune(s)) {
		_ = binary.Write(buf, binary.LittleEndian, c)
	}
	return buf.Bytes()
}

func decodeUTF16(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	for len(u16) > 0 && u16[len(u16)-1] == 0 {
		u16 = u16[:len(u16)-1]
	}
	return string(utf16.Decode(u16))
}

// ioResponseHeader builds the DR_DEVICE_IOCOMPLETION header common to
// every filesystem response this package produces (MS-RDPEFS 2.2.1.5).
func ioResponseHeader(req IoRequest, status Status) *bytes.Buffer {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, req.DeviceID)
	_ = binary.Write(buf, binary.LittleEndian, req.CompletionID)
	_ = binary.Write(buf, binary.LittleEndian, uint32(status))
	return buf
}

// --- Create (IRP_MJ_CREATE) ---

type createRequest struct {
	desiredAccess    uint32
	fileAttributes   uint32
	sharedAccess     uint32
	createDisposition uint32
	createOptions    uint32
	path             UnixPath
}

func decodeCreateRequest(r io.Reader) (createRequest, error) {
	var req createRequest
	var allocationSize uint64

	if err := binary.Read(r, binary.LittleEndian, &req.desiredAccess); err != nil {
		return req, errTruncated("create request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &allocationSize); err != nil {
		return req, errTruncated("create request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.fileAttributes); err != nil {
		return req, errTruncated("create request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.sharedAccess); err != nil {
		return req, errTruncated("create request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.createDisposition); err != nil {
		return req, errTruncated("create request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.createOptions); err != nil {
		return req, errTruncated("create request", err)
	}
	var pathLength uint32
	if err := binary.Read(r, binary.LittleEndian, &pathLength); err != nil {
		return req, errTruncated("create request", err)
	}
	pathBytes := make([]byte, pathLength)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return req, errTruncated("create request path", err)
	}
	req.path = NewUnixPath(decodeUTF16(pathBytes))
	return req, nil
}

// information values for DR_CREATE_RSP (MS-RDPEFS 2.2.1.5.1).
const (
	infoSuperseded uint8 = 0x00
	infoOpened     uint8 = 0x01
	infoOverwritten uint8 = 0x03
)

func encodeCreateResponse(req IoRequest, status Status, fileID uint32, information uint8) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, fileID)
	_ = buf.WriteByte(information)
	return buf.Bytes()
}

// --- Close (IRP_MJ_CLOSE) ---

func encodeCloseResponse(req IoRequest, status Status) []byte {
	buf := ioResponseHeader(req, status)
	buf.Write(make([]byte, 5)) // Padding, DR_CLOSE_RSP.
	return buf.Bytes()
}

// --- Query Information (IRP_MJ_QUERY_INFORMATION) ---

func decodeQueryInformationRequest(r io.Reader) (uint32, error) {
	var class uint32
	if err := binary.Read(r, binary.LittleEndian, &class); err != nil {
		return 0, errTruncated("query information request", err)
	}
	return class, nil
}

func encodeQueryInformationResponse(req IoRequest, status Status, buffer []byte) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(buffer)))
	buf.Write(buffer)
	return buf.Bytes()
}

func filetime(unixSeconds uint64) uint64 {
	// Windows FILETIME: 100ns intervals since 1601-01-01. 116444736000000000
	// is the offset between the Windows and Unix epochs in that unit.
	return unixSeconds*10000000 + 116444736000000000
}

func encodeFileBasicInfo(fso FileSystemObject) []byte {
	buf := new(bytes.Buffer)
	ft := filetime(fso.LastModified)
	_ = binary.Write(buf, binary.LittleEndian, ft) // CreationTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // LastAccessTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // LastWriteTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // ChangeTime
	attrs := uint32(0x80)                          // FILE_ATTRIBUTE_NORMAL
	if fso.isDirectory() {
		attrs = 0x10 // FILE_ATTRIBUTE_DIRECTORY
	}
	_ = binary.Write(buf, binary.LittleEndian, attrs)
	return buf.Bytes()
}

func encodeFileStandardInfo(fso FileSystemObject) []byte {
	buf := new(bytes.Buffer)
	size := int64(fso.Size)
	_ = binary.Write(buf, binary.LittleEndian, size) // AllocationSize
	_ = binary.Write(buf, binary.LittleEndian, size) // EndOfFile
	_ = binary.Write(buf, binary.LittleEndian, uint32(1))
	deletePending := uint8(0)
	_ = buf.WriteByte(deletePending)
	directory := uint8(0)
	if fso.isDirectory() {
		directory = 1
	}
	_ = buf.WriteByte(directory)
	return buf.Bytes()
}

func encodeFileAttributeTagInfo(fso FileSystemObject) []byte {
	buf := new(bytes.Buffer)
	attrs := uint32(0x80)
	if fso.isDirectory() {
		attrs = 0x10
	}
	_ = binary.Write(buf, binary.LittleEndian, attrs)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // ReparseTag
	return buf.Bytes()
}

// --- Query Directory (IRP_MJ_DIRECTORY_CONTROL / IRP_MN_QUERY_DIRECTORY) ---

type queryDirectoryRequest struct {
	fileInfoClass uint32
	initialQuery  uint8
	path          UnixPath
}

func decodeQueryDirectoryRequest(r io.Reader) (queryDirectoryRequest, error) {
	var req queryDirectoryRequest
	if err := binary.Read(r, binary.LittleEndian, &req.fileInfoClass); err != nil {
		return req, errTruncated("query directory request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.initialQuery); err != nil {
		return req, errTruncated("query directory request", err)
	}
	var pathLength uint32
	if err := binary.Read(r, binary.LittleEndian, &pathLength); err != nil {
		return req, errTruncated("query directory request", err)
	}
	padding := make([]byte, 23)
	if _, err := io.ReadFull(r, padding); err != nil {
		return req, errTruncated("query directory request", err)
	}
	pathBytes := make([]byte, pathLength)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return req, errTruncated("query directory request path", err)
	}
	req.path = NewUnixPath(decodeUTF16(pathBytes))
	return req, nil
}

func encodeQueryDirectoryResponse(req IoRequest, status Status, buffer []byte) []byte {
	buf := ioResponseHeader(req, status)
	if status == StatusNoMoreFiles {
		_ = binary.Write(buf, binary.LittleEndian, uint32(0))
		return buf.Bytes()
	}
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(buffer)))
	buf.Write(buffer)
	return buf.Bytes()
}

// encodeFileBothDirectoryInfo builds one FILE_BOTH_DIR_INFORMATION entry
// (MS-FSCC 2.4.8), the class FreeRDP's drive redirection client asks for.
func encodeFileBothDirectoryInfo(fso FileSystemObject) []byte {
	name := encodeUTF16(fso.Name())

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // NextEntryOffset
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // FileIndex
	ft := filetime(fso.LastModified)
	_ = binary.Write(buf, binary.LittleEndian, ft) // CreationTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // LastAccessTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // LastWriteTime
	_ = binary.Write(buf, binary.LittleEndian, ft) // ChangeTime
	size := int64(fso.Size)
	_ = binary.Write(buf, binary.LittleEndian, size) // EndOfFile
	_ = binary.Write(buf, binary.LittleEndian, size) // AllocationSize
	attrs := uint32(0x80)
	if fso.isDirectory() {
		attrs = 0x10
	}
	_ = binary.Write(buf, binary.LittleEndian, attrs)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name))) // FileNameLength
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))         // EaSize
	_ = buf.WriteByte(0)                                          // ShortNameLength
	_ = buf.WriteByte(0)                                          // Reserved
	buf.Write(make([]byte, 24))                                   // ShortName
	buf.Write(name)
	return buf.Bytes()
}

// --- Query Volume Information (IRP_MJ_QUERY_VOLUME_INFORMATION) ---

func decodeQueryVolumeRequest(r io.Reader) (uint32, error) {
	var class uint32
	if err := binary.Read(r, binary.LittleEndian, &class); err != nil {
		return 0, errTruncated("query volume request", err)
	}
	return class, nil
}

func encodeQueryVolumeResponse(req IoRequest, status Status, buffer []byte) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(buffer)))
	buf.Write(buffer)
	return buf.Bytes()
}

const volumeLabel = "TELEPORT"
const fileSystemName = "FAT32"

func encodeFileFsVolumeInfo(fso FileSystemObject) []byte {
	label := encodeUTF16(volumeLabel)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, filetime(fso.LastModified))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0xffff)) // VolumeSerialNumber
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(label)))
	_ = buf.WriteByte(0) // SupportsObjects = FALSE
	_ = buf.WriteByte(0) // Reserved
	buf.Write(label)
	return buf.Bytes()
}

func encodeFileFsAttributeInfo() []byte {
	name := encodeUTF16(fileSystemName)
	buf := new(bytes.Buffer)
	const caseSensitive, casePreserved, unicodeOnDisk = 0x00000001, 0x00000002, 0x00000004
	_ = binary.Write(buf, binary.LittleEndian, uint32(caseSensitive|casePreserved|unicodeOnDisk))
	_ = binary.Write(buf, binary.LittleEndian, uint32(260)) // MaximumComponentNameLength
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.Write(name)
	return buf.Bytes()
}

func encodeFileFsFullSizeInfo() []byte {
	buf := new(bytes.Buffer)
	max32 := int64(0xffffffff)
	_ = binary.Write(buf, binary.LittleEndian, max32) // TotalAllocationUnits
	_ = binary.Write(buf, binary.LittleEndian, max32) // CallerAvailableAllocationUnits
	_ = binary.Write(buf, binary.LittleEndian, max32) // ActualAvailableAllocationUnits
	_ = binary.Write(buf, binary.LittleEndian, uint32(0xffffffff))
	_ = binary.Write(buf, binary.LittleEndian, uint32(1))
	return buf.Bytes()
}

func encodeFileFsSizeInfo() []byte {
	buf := new(bytes.Buffer)
	max32 := int64(0xffffffff)
	_ = binary.Write(buf, binary.LittleEndian, max32) // TotalAllocationUnits
	_ = binary.Write(buf, binary.LittleEndian, max32) // AvailableAllocationUnits
	_ = binary.Write(buf, binary.LittleEndian, uint32(0xffffffff))
	_ = binary.Write(buf, binary.LittleEndian, uint32(1))
	return buf.Bytes()
}

func encodeFileFsDeviceInfo() []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(7)) // FILE_DEVICE_DISK
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // Characteristics
	return buf.Bytes()
}

// --- Read / Write (IRP_MJ_READ / IRP_MJ_WRITE) ---

type readRequest struct {
	length uint32
	offset uint64
}

func decodeReadRequest(r io.Reader) (readRequest, error) {
	var req readRequest
	if err := binary.Read(r, binary.LittleEndian, &req.length); err != nil {
		return req, errTruncated("read request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.offset); err != nil {
		return req, errTruncated("read request", err)
	}
	padding := make([]byte, 20)
	_, err := io.ReadFull(r, padding)
	return req, err
}

func encodeReadResponse(req IoRequest, status Status, data []byte) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

type writeRequest struct {
	offset uint64
	data   []byte
}

func decodeWriteRequest(r io.Reader) (writeRequest, error) {
	var req writeRequest
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return req, errTruncated("write request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &req.offset); err != nil {
		return req, errTruncated("write request", err)
	}
	padding := make([]byte, 20)
	if _, err := io.ReadFull(r, padding); err != nil {
		return req, errTruncated("write request", err)
	}
	req.data = make([]byte, length)
	_, err := io.ReadFull(r, req.data)
	return req, err
}

func encodeWriteResponse(req IoRequest, status Status, length uint32) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, length)
	_ = buf.WriteByte(0) // Padding
	return buf.Bytes()
}

// --- Set Information (IRP_MJ_SET_INFORMATION) ---

type renameInfo struct {
	replaceIfExists bool
	newPath         UnixPath
}

type dispositionInfo struct {
	deletePending bool
}

type setInformationRequest struct {
	fileInfoClass uint32
	rename        *renameInfo
	disposition   *dispositionInfo
}

func decodeSetInformationRequest(r io.Reader) (setInformationRequest, error) {
	var req setInformationRequest
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &req.fileInfoClass); err != nil {
		return req, errTruncated("set information request", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return req, errTruncated("set information request", err)
	}
	padding := make([]byte, 24)
	if _, err := io.ReadFull(r, padding); err != nil {
		return req, errTruncated("set information request", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return req, errTruncated("set information request body", err)
	}

	switch req.fileInfoClass {
	case fileRenameInformation:
		br := bytes.NewReader(body)
		var replace uint8
		if err := binary.Read(br, binary.LittleEndian, &replace); err != nil {
			return req, errTruncated("rename information", err)
		}
		reserved := make([]byte, 7)
		if _, err := io.ReadFull(br, reserved); err != nil {
			return req, errTruncated("rename information", err)
		}
		var rootDirectory uint64
		if err := binary.Read(br, binary.LittleEndian, &rootDirectory); err != nil {
			return req, errTruncated("rename information", err)
		}
		var nameLength uint32
		if err := binary.Read(br, binary.LittleEndian, &nameLength); err != nil {
			return req, errTruncated("rename information", err)
		}
		nameBytes := make([]byte, nameLength)
		if _, err := io.ReadFull(br, nameBytes); err != nil {
			return req, errTruncated("rename information", err)
		}
		req.rename = &renameInfo{replaceIfExists: replace != 0, newPath: NewUnixPath(decodeUTF16(nameBytes))}
	case fileDispositionInformation:
		if len(body) > 0 {
			req.disposition = &dispositionInfo{deletePending: body[0] != 0}
		} else {
			req.disposition = &dispositionInfo{deletePending: false}
		}
	}

	return req, nil
}

func encodeSetInformationResponse(req IoRequest, status Status) []byte {
	buf := ioResponseHeader(req, status)
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	return buf.Bytes()
}
