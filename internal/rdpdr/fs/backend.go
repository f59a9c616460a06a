package fs

import (
	"bytes"
	"io"

	"github.com/rdpengine/core/internal/engineerr"
)

// RequestSink pushes one outbound shared-directory request up to the
// host, keyed by its kind ("info", "create", "delete", "list", "read",
// "write", "move", "acknowledge"). It plays the same role cliprdr.Client's
// OnRemoteCopy callback plays for clipboard pushes: a function boundary
// that keeps this package free of a direct dependency on package session.
type RequestSink func(requestKind string, payload []byte) error

// Backend bridges MS-RDPEFS drive-redirection IRPs against the host's
// shared-directory operations (a direct port of the Rust client's
// FilesystemBackend, restructured around explicit pending-response
// closures instead of captured method references).
type Backend struct {
	sink        RequestSink
	directoryID uint32
	files       *fileCache
	pending     *pendingResponses
}

// NewBackend creates a Backend for the single shared-directory device
// announced under directoryID.
func NewBackend(directoryID uint32, sink RequestSink) *Backend {
	return &Backend{
		sink:        sink,
		directoryID: directoryID,
		files:       newFileCache(),
		pending:     newPendingResponses(),
	}
}

func (b *Backend) pushSink(kind string, payload []byte) error {
	if b.sink == nil {
		return nil
	}
	return b.sink(kind, payload)
}

// HandleServerDeviceAnnounceResponse acknowledges the drive device's
// announcement, one time, to the host.
func (b *Backend) HandleServerDeviceAnnounceResponse(success bool) error {
	errCode := TdpErrNil
	if !success {
		errCode = TdpErrFailed
	}
	return b.pushSink("acknowledge", encodeAcknowledge(errCode, b.directoryID))
}

// HandleDriveIoRequest dispatches one drive IRP. A nil response with a nil
// error means the completion is pending: a later Resolve call against
// req.CompletionID will produce it.
func (b *Backend) HandleDriveIoRequest(ioReq IoRequest, body []byte) ([]byte, error) {
	r := bytes.NewReader(body)
	switch ioReq.MajorFunction {
	case mjCreate:
		return b.handleCreate(ioReq, r)
	case mjClose:
		return b.handleClose(ioReq)
	case mjQueryInformation:
		return b.handleQueryInformation(ioReq, r)
	case mjDirectoryControl:
		if ioReq.MinorFunction == mnNotifyChangeDirectory {
			return nil, nil // FreeRDP never expects a reply to this; ignored.
		}
		return b.handleQueryDirectory(ioReq, r)
	case mjQueryVolumeInformation:
		return b.handleQueryVolume(ioReq, r)
	case mjRead:
		return b.handleRead(ioReq, r)
	case mjWrite:
		return b.handleWrite(ioReq, r)
	case mjSetInformation:
		return b.handleSetInformation(ioReq, r)
	case mjLockControl:
		return nil, nil // no reply expected.
	default:
		return nil, engineerr.New(engineerr.KindPerIRP, "fs: unsupported major function")
	}
}

// Resolve completes the pending IRP registered under completionID with a
// shared-directory response payload from the host, returning the
// Device I/O Completion body the rdpdr channel mux should send back to
// the RDP server (nil if the operation needed no further reply, or
// triggered another round trip instead).
func (b *Backend) Resolve(completionID uint32, payload []byte) ([]byte, error) {
	handler, ok := b.pending.remove(completionID)
	if !ok {
		return nil, engineerr.New(engineerr.KindProtocol, "fs: shared-directory response for unknown completion id")
	}
	return handler(payload)
}

// handleCreate implements IRP_MJ_CREATE: https://github.com/FreeRDP/FreeRDP/blob/511444a65e7aa2f537c5e531fa68157a50c1bd4d/channels/drive/client/drive_file.c#L210
func (b *Backend) handleCreate(ioReq IoRequest, r io.Reader) ([]byte, error) {
	req, err := decodeCreateRequest(r)
	if err != nil {
		return nil, err
	}

	if err := b.pushSink("info", encodeInfoRequest(ioReq.CompletionID, b.directoryID, req.path)); err != nil {
		return nil, err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeInfoResponse(payload)
		if err != nil {
			return nil, err
		}
		return b.continueCreate(ioReq, req, res)
	})
	return nil, nil
}

func (b *Backend) continueCreate(ioReq IoRequest, req createRequest, res infoResponse) ([]byte, error) {
	switch res.errCode {
	case TdpErrFailed, TdpErrAlreadyExists:
		return nil, engineerr.New(engineerr.KindProtocol, "fs: unexpected error code in shared-directory info response")
	case TdpErrNil:
		if res.fso.isDirectory() {
			if req.createDisposition == FileCreate {
				return b.respondCreate(ioReq, req, StatusObjectNameCollision, 0)
			}
			if req.createOptions&FileNonDirectoryFile != 0 {
				return b.respondCreate(ioReq, req, StatusAccessDenied, 0)
			}
		} else if req.createOptions&FileDirectoryFile != 0 {
			return b.respondCreate(ioReq, req, StatusNotADirectory, 0)
		}
	case TdpErrDoesNotExist:
		if req.createOptions&FileDirectoryFile != 0 {
			if req.createDisposition == FileOpenIf || req.createDisposition == FileCreate {
				return nil, b.tdpCreate(ioReq, req, FileTypeDirectory)
			}
			return b.respondCreate(ioReq, req, StatusNoSuchFile, 0)
		}
	}

	// https://github.com/FreeRDP/FreeRDP/blob/511444a65e7aa2f537c5e531fa68157a50c1bd4d/winpr/libwinpr/file/file.c#L781
	switch req.createDisposition {
	case FileSupersede:
		if res.errCode == TdpErrNil {
			return nil, b.tdpOverwrite(ioReq, req)
		}
		if res.errCode == TdpErrDoesNotExist {
			return nil, b.tdpCreate(ioReq, req, FileTypeFile)
		}
	case FileOpen:
		if res.errCode == TdpErrNil {
			fileID := b.files.insert(newFileCacheObject(req.path, res.fso))
			return b.respondCreate(ioReq, req, StatusSuccess, fileID)
		}
		if res.errCode == TdpErrDoesNotExist {
			return b.respondCreate(ioReq, req, StatusNoSuchFile, 0)
		}
	case FileCreate:
		if res.errCode == TdpErrNil {
			return b.respondCreate(ioReq, req, StatusObjectNameCollision, 0)
		}
		if res.errCode == TdpErrDoesNotExist {
			return nil, b.tdpCreate(ioReq, req, FileTypeFile)
		}
	case FileOpenIf:
		if res.errCode == TdpErrNil {
			fileID := b.files.insert(newFileCacheObject(req.path, res.fso))
			return b.respondCreate(ioReq, req, StatusSuccess, fileID)
		}
		if res.errCode == TdpErrDoesNotExist {
			return nil, b.tdpCreate(ioReq, req, FileTypeFile)
		}
	case FileOverwrite:
		if res.errCode == TdpErrNil {
			return nil, b.tdpOverwrite(ioReq, req)
		}
		if res.errCode == TdpErrDoesNotExist {
			return b.respondCreate(ioReq, req, StatusNoSuchFile, 0)
		}
	case FileOverwriteIf:
		if res.errCode == TdpErrNil {
			return nil, b.tdpOverwrite(ioReq, req)
		}
		if res.errCode == TdpErrDoesNotExist {
			return nil, b.tdpCreate(ioReq, req, FileTypeFile)
		}
	}

	return nil, engineerr.New(engineerr.KindProgrammer, "fs: create-disposition decision table fell through")
}

func (b *Backend) respondCreate(ioReq IoRequest, req createRequest, status Status, fileID uint32) ([]byte, error) {
	var information uint8
	switch {
	case status != StatusSuccess:
		information = infoSuperseded
	case req.createDisposition == FileSupersede, req.createDisposition == FileOpen,
		req.createDisposition == FileCreate, req.createDisposition == FileOverwrite:
		information = infoSuperseded
	case req.createDisposition == FileOpenIf:
		information = infoOpened
	case req.createDisposition == FileOverwriteIf:
		information = infoOverwritten
	default:
		return nil, engineerr.New(engineerr.KindProgrammer, "fs: create-disposition check should be exhaustive")
	}
	return encodeCreateResponse(ioReq, status, fileID, information), nil
}

func (b *Backend) tdpCreate(ioReq IoRequest, req createRequest, fileType FileType) error {
	if err := b.pushSink("create", encodeCreateRequest(ioReq.CompletionID, b.directoryID, req.path, fileType)); err != nil {
		return err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeCreateResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode != TdpErrNil {
			return b.respondCreate(ioReq, req, StatusUnsuccessful, 0)
		}
		fileID := b.files.insert(newFileCacheObject(req.path, res.fso))
		return b.respondCreate(ioReq, req, StatusSuccess, fileID)
	})
	return nil
}

// tdpOverwrite combines a delete and a create to implement FILE_SUPERSEDE
// / FILE_OVERWRITE(_IF) against an existing file.
func (b *Backend) tdpOverwrite(ioReq IoRequest, req createRequest) error {
	if err := b.pushSink("delete", encodeDeleteRequest(ioReq.CompletionID, b.directoryID, req.path)); err != nil {
		return err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeDeleteResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode == TdpErrNil {
			return nil, b.tdpCreate(ioReq, req, FileTypeFile)
		}
		return b.respondCreate(ioReq, req, StatusUnsuccessful, 0)
	})
	return nil
}

// handleClose implements IRP_MJ_CLOSE.
func (b *Backend) handleClose(ioReq IoRequest) ([]byte, error) {
	file, ok := b.files.remove(ioReq.FileID)
	if !ok {
		return encodeCloseResponse(ioReq, StatusUnsuccessful), nil
	}
	if file.deletePending {
		return nil, b.tdpDelete(ioReq, file)
	}
	return encodeCloseResponse(ioReq, StatusSuccess), nil
}

func (b *Backend) tdpDelete(ioReq IoRequest, file *fileCacheObject) error {
	if err := b.pushSink("delete", encodeDeleteRequest(ioReq.CompletionID, b.directoryID, file.path)); err != nil {
		return err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeDeleteResponse(payload)
		if err != nil {
			return nil, err
		}
		status := StatusSuccess
		if res.errCode != TdpErrNil {
			status = StatusUnsuccessful
		}
		return encodeCloseResponse(ioReq, status), nil
	})
	return nil
}

// handleQueryInformation implements IRP_MJ_QUERY_INFORMATION, answered
// entirely from the already-cached FileCacheObject.
func (b *Backend) handleQueryInformation(ioReq IoRequest, r io.Reader) ([]byte, error) {
	class, err := decodeQueryInformationRequest(r)
	if err != nil {
		return nil, err
	}
	file, ok := b.files.get(ioReq.FileID)
	if !ok {
		return encodeQueryInformationResponse(ioReq, StatusUnsuccessful, nil), nil
	}

	// We support the same FileInformationClasses FreeRDP's drive client
	// does: https://github.com/FreeRDP/FreeRDP/blob/511444a65e7aa2f537c5e531fa68157a50c1bd4d/channels/drive/client/drive_file.c#L482
	var buffer []byte
	switch class {
	case fileBasicInformation:
		buffer = encodeFileBasicInfo(file.fso)
	case fileStandardInformation:
		buffer = encodeFileStandardInfo(file.fso)
	case fileAttributeTagInformation:
		buffer = encodeFileAttributeTagInfo(file.fso)
	default:
		return nil, engineerr.New(engineerr.KindPerIRP, "fs: unsupported file information class")
	}
	return encodeQueryInformationResponse(ioReq, StatusSuccess, buffer), nil
}

// handleQueryDirectory implements IRP_MJ_DIRECTORY_CONTROL /
// IRP_MN_QUERY_DIRECTORY: https://github.com/FreeRDP/FreeRDP/blob/511444a65e7aa2f537c5e531fa68157a50c1bd4d/channels/drive/client/drive_main.c#L610
func (b *Backend) handleQueryDirectory(ioReq IoRequest, r io.Reader) ([]byte, error) {
	req, err := decodeQueryDirectoryRequest(r)
	if err != nil {
		return nil, err
	}

	dir, ok := b.files.get(ioReq.FileID)
	if !ok {
		return encodeQueryDirectoryResponse(ioReq, StatusUnsuccessful, nil), nil
	}
	if !dir.fso.isDirectory() {
		return nil, engineerr.New(engineerr.KindProgrammer, "fs: query directory request for a file")
	}

	if req.initialQuery == 0 {
		return b.nextDirectoryEntry(ioReq, dir, req.fileInfoClass)
	}

	// https://github.com/FreeRDP/FreeRDP/blob/511444a65e7aa2f537c5e531fa68157a50c1bd4d/channels/drive/client/drive_file.c#L775
	if err := b.pushSink("list", encodeListRequest(ioReq.CompletionID, b.directoryID, dir.path)); err != nil {
		return nil, err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeListResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode != TdpErrNil {
			return nil, engineerr.New(engineerr.KindProtocol, "fs: shared-directory list request failed")
		}
		dir.contents = res.fsoList
		return b.nextDirectoryEntry(ioReq, dir, req.fileInfoClass)
	})
	return nil, nil
}

func (b *Backend) nextDirectoryEntry(ioReq IoRequest, dir *fileCacheObject, fileInfoClass uint32) ([]byte, error) {
	entry, ok := dir.next()
	if !ok {
		return encodeQueryDirectoryResponse(ioReq, StatusNoMoreFiles, nil), nil
	}
	if fileInfoClass != fileBothDirectoryInfo {
		return nil, engineerr.New(engineerr.KindPerIRP, "fs: unsupported directory information class")
	}
	return encodeQueryDirectoryResponse(ioReq, StatusSuccess, encodeFileBothDirectoryInfo(entry)), nil
}

// handleQueryVolume implements IRP_MJ_QUERY_VOLUME_INFORMATION, using the
// same fallback values FreeRDP's drive client falls back to.
func (b *Backend) handleQueryVolume(ioReq IoRequest, r io.Reader) ([]byte, error) {
	class, err := decodeQueryVolumeRequest(r)
	if err != nil {
		return nil, err
	}
	file, ok := b.files.get(ioReq.FileID)
	if !ok {
		return nil, engineerr.New(engineerr.KindPerIRP, "fs: query volume request for unknown file id")
	}

	var buffer []byte
	switch class {
	case fileFsVolumeInformation:
		buffer = encodeFileFsVolumeInfo(file.fso)
	case fileFsAttributeInformation:
		buffer = encodeFileFsAttributeInfo()
	case fileFsFullSizeInformation:
		buffer = encodeFileFsFullSizeInfo()
	case fileFsDeviceInformation:
		buffer = encodeFileFsDeviceInfo()
	case fileFsSizeInformation:
		buffer = encodeFileFsSizeInfo()
	default:
		return encodeQueryVolumeResponse(ioReq, StatusUnsuccessful, nil), nil
	}
	return encodeQueryVolumeResponse(ioReq, StatusSuccess, buffer), nil
}

// handleRead implements IRP_MJ_READ.
func (b *Backend) handleRead(ioReq IoRequest, r io.Reader) ([]byte, error) {
	req, err := decodeReadRequest(r)
	if err != nil {
		return nil, err
	}
	file, ok := b.files.get(ioReq.FileID)
	if !ok {
		return encodeReadResponse(ioReq, StatusUnsuccessful, nil), nil
	}

	if err := b.pushSink("read", encodeReadRequest(ioReq.CompletionID, b.directoryID, file.path, req.offset, uint64(req.length))); err != nil {
		return nil, err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeReadResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode != TdpErrNil {
			return encodeReadResponse(ioReq, StatusUnsuccessful, nil), nil
		}
		return encodeReadResponse(ioReq, StatusSuccess, res.readData), nil
	})
	return nil, nil
}

// handleWrite implements IRP_MJ_WRITE.
func (b *Backend) handleWrite(ioReq IoRequest, r io.Reader) ([]byte, error) {
	req, err := decodeWriteRequest(r)
	if err != nil {
		return nil, err
	}
	file, ok := b.files.get(ioReq.FileID)
	if !ok {
		return encodeWriteResponse(ioReq, StatusUnsuccessful, 0), nil
	}

	if err := b.pushSink("write", encodeWriteRequest(ioReq.CompletionID, b.directoryID, file.path, req.offset, req.data)); err != nil {
		return nil, err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeWriteResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode != TdpErrNil {
			return encodeWriteResponse(ioReq, StatusUnsuccessful, 0), nil
		}
		return encodeWriteResponse(ioReq, StatusSuccess, res.bytesWritten), nil
	})
	return nil, nil
}

// handleSetInformation implements IRP_MJ_SET_INFORMATION: renames route
// through tdpRename/tdpMove, disposition toggles delete-on-close, and the
// remaining classes (Basic/EndOfFile/Allocation) ask us to change
// something only the host's filesystem controls, so we just acknowledge.
// https://github.com/FreeRDP/FreeRDP/blob/dfa231c0a55b005af775b833f92f6bcd30363d77/channels/drive/client/drive_file.c#L579
func (b *Backend) handleSetInformation(ioReq IoRequest, r io.Reader) ([]byte, error) {
	req, err := decodeSetInformationRequest(r)
	if err != nil {
		return nil, err
	}

	file, ok := b.files.get(ioReq.FileID)
	if !ok {
		return encodeSetInformationResponse(ioReq, StatusUnsuccessful), nil
	}

	ioStatus := StatusSuccess
	if file.fso.IsNonEmptyDirectory() {
		ioStatus = StatusDirectoryNotEmpty
	}

	switch req.fileInfoClass {
	case fileRenameInformation:
		return nil, b.tdpRename(ioReq, file, req.rename, ioStatus)
	case fileDispositionInformation:
		if file.fso.IsFile() || file.fso.IsEmptyDirectory() {
			file.deletePending = req.disposition.deletePending
		}
		return encodeSetInformationResponse(ioReq, ioStatus), nil
	case fileBasicInformation, fileEndOfFileInformation, fileAllocationInformation:
		return encodeSetInformationResponse(ioReq, ioStatus), nil
	default:
		return nil, engineerr.New(engineerr.KindPerIRP, "fs: unsupported file information class in set information request")
	}
}

// tdpRename mirrors drive_file.c's replace_if_exists handling: a plain
// rename (replace_if_exists false) first checks the destination doesn't
// already exist before moving.
// https://github.com/FreeRDP/FreeRDP/blob/dfa231c0a55b005af775b833f92f6bcd30363d77/channels/drive/client/drive_file.c#L709
func (b *Backend) tdpRename(ioReq IoRequest, file *fileCacheObject, rename *renameInfo, ioStatus Status) error {
	if rename.replaceIfExists {
		return b.tdpMove(ioReq, file, rename.newPath, ioStatus)
	}

	if err := b.pushSink("info", encodeInfoRequest(ioReq.CompletionID, b.directoryID, rename.newPath)); err != nil {
		return err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeInfoResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode == TdpErrDoesNotExist {
			return nil, b.tdpMove(ioReq, file, rename.newPath, ioStatus)
		}
		return encodeSetInformationResponse(ioReq, StatusObjectNameCollision), nil
	})
	return nil
}

func (b *Backend) tdpMove(ioReq IoRequest, file *fileCacheObject, newPath UnixPath, ioStatus Status) error {
	if err := b.pushSink("move", encodeMoveRequest(ioReq.CompletionID, b.directoryID, file.path, newPath)); err != nil {
		return err
	}
	b.pending.insert(ioReq.CompletionID, func(payload []byte) ([]byte, error) {
		res, err := decodeMoveResponse(payload)
		if err != nil {
			return nil, err
		}
		if res.errCode != TdpErrNil {
			return encodeSetInformationResponse(ioReq, StatusUnsuccessful), nil
		}
		return encodeSetInformationResponse(ioReq, ioStatus), nil
	})
	return nil
}
