package fs

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/rdpengine/core/internal/engineerr"
)

// TdpErrCode is the shared-directory operation's result code, carried at
// the front of every response payload the host hands back through
// session.CommandSharedDirectoryResponse (teleport RFD 0067's TDP error
// codes, ported from the Rust client's tdp::TdpErrCode).
type TdpErrCode uint32

const (
	TdpErrNil TdpErrCode = iota
	TdpErrFailed
	TdpErrDoesNotExist
	TdpErrAlreadyExists
)

// FileType distinguishes a shared-directory entry as a plain file or a
// directory (tdp::FileType).
type FileType uint32

const (
	FileTypeFile FileType = iota
	FileTypeDirectory
)

// FileSystemObject describes one file or directory on the host's shared
// directory (tdp::FileSystemObject).
type FileSystemObject struct {
	LastModified uint64
	Size         uint64
	FileType     FileType
	IsEmpty      bool
	Path         UnixPath
}

func (f FileSystemObject) Name() string { return f.Path.Last() }

func (f FileSystemObject) IsFile() bool { return f.FileType == FileTypeFile }

func (f FileSystemObject) isDirectory() bool { return f.FileType == FileTypeDirectory }

func (f FileSystemObject) IsEmptyDirectory() bool { return f.isDirectory() && f.IsEmpty }

func (f FileSystemObject) IsNonEmptyDirectory() bool { return f.isDirectory() && !f.IsEmpty }

func encodeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func decodeString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeFSO(buf *bytes.Buffer, fso FileSystemObject) {
	_ = binary.Write(buf, binary.LittleEndian, fso.LastModified)
	_ = binary.Write(buf, binary.LittleEndian, fso.Size)
	_ = binary.Write(buf, binary.LittleEndian, uint32(fso.FileType))
	empty := uint8(0)
	if fso.IsEmpty {
		empty = 1
	}
	_ = buf.WriteByte(empty)
	encodeString(buf, fso.Path.String())
}

func decodeFSO(r io.Reader) (FileSystemObject, error) {
	var fso FileSystemObject
	if err := binary.Read(r, binary.LittleEndian, &fso.LastModified); err != nil {
		return fso, err
	}
	if err := binary.Read(r, binary.LittleEndian, &fso.Size); err != nil {
		return fso, err
	}
	var fileType uint32
	if err := binary.Read(r, binary.LittleEndian, &fileType); err != nil {
		return fso, err
	}
	fso.FileType = FileType(fileType)
	var empty uint8
	if err := binary.Read(r, binary.LittleEndian, &empty); err != nil {
		return fso, err
	}
	fso.IsEmpty = empty != 0
	path, err := decodeString(r)
	if err != nil {
		return fso, err
	}
	fso.Path = UnixPathFromString(path)
	return fso, nil
}

// Outbound shared-directory requests, pushed to the host as
// session.Event{Kind: EventSharedDirectoryRequest}. Every request beyond
// Acknowledge carries the completion_id/directory_id pair the eventual
// CommandSharedDirectoryResponse will echo back, so the pending handler
// that's registered under that id can be found again.

// encodeAcknowledge builds the one-way notice sent once, when the RDP
// server's ServerDeviceAnnounceResponse for the drive device arrives
// (tdp::SharedDirectoryAcknowledge). There is no reply to wait for.
func encodeAcknowledge(errCode TdpErrCode, directoryID uint32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(errCode))
	_ = binary.Write(buf, binary.LittleEndian, directoryID)
	return buf.Bytes()
}

func encodeInfoRequest(completionID, directoryID uint32, path UnixPath) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	return buf.Bytes()
}

func encodeCreateRequest(completionID, directoryID uint32, path UnixPath, fileType FileType) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	_ = binary.Write(buf, binary.LittleEndian, uint32(fileType))
	return buf.Bytes()
}

func encodeDeleteRequest(completionID, directoryID uint32, path UnixPath) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	return buf.Bytes()
}

func encodeListRequest(completionID, directoryID uint32, path UnixPath) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	return buf.Bytes()
}

func encodeReadRequest(completionID, directoryID uint32, path UnixPath, offset, length uint64) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	_ = binary.Write(buf, binary.LittleEndian, offset)
	_ = binary.Write(buf, binary.LittleEndian, length)
	return buf.Bytes()
}

func encodeWriteRequest(completionID, directoryID uint32, path UnixPath, offset uint64, data []byte) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, path.String())
	_ = binary.Write(buf, binary.LittleEndian, offset)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func encodeMoveRequest(completionID, directoryID uint32, originalPath, newPath UnixPath) []byte {
	buf := requestHeader(completionID, directoryID)
	encodeString(buf, originalPath.String())
	encodeString(buf, newPath.String())
	return buf.Bytes()
}

func requestHeader(completionID, directoryID uint32) *bytes.Buffer {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, completionID)
	_ = binary.Write(buf, binary.LittleEndian, directoryID)
	return buf
}

// Inbound shared-directory responses, unpacked out of a
// session.Command's Payload. Every response leads with the TdpErrCode.

type infoResponse struct {
	errCode TdpErrCode
	fso     FileSystemObject
}

func decodeInfoResponse(payload []byte) (infoResponse, error) {
	r := bytes.NewReader(payload)
	errCode, err := decodeErrCode(r)
	if err != nil {
		return infoResponse{}, err
	}
	res := infoResponse{errCode: errCode}
	if errCode == TdpErrFailed || errCode == TdpErrAlreadyExists {
		return res, nil
	}
	res.fso, err = decodeFSO(r)
	return res, err
}

type createResponse struct {
	errCode TdpErrCode
	fso     FileSystemObject
}

func decodeCreateResponse(payload []byte) (createResponse, error) {
	r := bytes.NewReader(payload)
	errCode, err := decodeErrCode(r)
	if err != nil {
		return createResponse{}, err
	}
	res := createResponse{errCode: errCode}
	if errCode != TdpErrNil {
		return res, nil
	}
	res.fso, err = decodeFSO(r)
	return res, err
}

type deleteResponse struct {
	errCode TdpErrCode
}

func decodeDeleteResponse(payload []byte) (deleteResponse, error) {
	errCode, err := decodeErrCode(bytes.NewReader(payload))
	return deleteResponse{errCode: errCode}, err
}

type listResponse struct {
	errCode TdpErrCode
	fsoList []FileSystemObject
}

func decodeListResponse(payload []byte) (listResponse, error) {
	r := bytes.NewReader(payload)
	errCode, err := decodeErrCode(r)
	if err != nil {
		return listResponse{}, err
	}
	res := listResponse{errCode: errCode}
	if errCode != TdpErrNil {
		return res, nil
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return res, err
	}
	res.fsoList = make([]FileSystemObject, count)
	for i := range res.fsoList {
		fso, err := decodeFSO(r)
		if err != nil {
			return res, err
		}
		res.fsoList[i] = fso
	}
	return res, nil
}

type readResponse struct {
	errCode  TdpErrCode
	readData []byte
}

func decodeReadResponse(payload []byte) (readResponse, error) {
	r := bytes.NewReader(payload)
	errCode, err := decodeErrCode(r)
	if err != nil {
		return readResponse{}, err
	}
	res := readResponse{errCode: errCode}
	if errCode != TdpErrNil {
		return res, nil
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return res, err
	}
	res.readData = make([]byte, length)
	_, err = io.ReadFull(r, res.readData)
	return res, err
}

type writeResponse struct {
	errCode      TdpErrCode
	bytesWritten uint32
}

func decodeWriteResponse(payload []byte) (writeResponse, error) {
	r := bytes.NewReader(payload)
	errCode, err := decodeErrCode(r)
	if err != nil {
		return writeResponse{}, err
	}
	res := writeResponse{errCode: errCode}
	if errCode != TdpErrNil {
		return res, nil
	}
	err = binary.Read(r, binary.LittleEndian, &res.bytesWritten)
	return res, err
}

type moveResponse struct {
	errCode TdpErrCode
}

func decodeMoveResponse(payload []byte) (moveResponse, error) {
	errCode, err := decodeErrCode(bytes.NewReader(payload))
	return moveResponse{errCode: errCode}, err
}

func decodeErrCode(r io.Reader) (TdpErrCode, error) {
	var code uint32
	if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
		return 0, engineerr.Wrap(engineerr.KindProtocol, "fs: truncated shared-directory response", err)
	}
	return TdpErrCode(code), nil
}
