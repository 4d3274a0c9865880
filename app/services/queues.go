package services

// Queue names and payload shapes shared between the services that enqueue
// work and the worker registration that binds processors to them.
const (
	QueueUpdateContent   = "asset/update-content"
	QueueProcessDeletion = "asset/process-deletion"
	QueueAssignProducts  = "asset/assign-products"
	QueueCollectionSync  = "collection/synchronization"
	QueueCreateArchive   = "download/create-archive"
	QueueProcessExpired  = "download/process-expired"
	QueueDownloadReady   = "mailer/download-ready"
)

type FileContentPayload struct {
	AssetFileID string `json:"assetFileId"`
}

type CollectionSyncPayload struct {
	CollectionID string `json:"collectionId"`
}

type DownloadPayload struct {
	DownloadID string `json:"downloadId"`
}

func collectionSyncKey(collectionID string) string {
	return "collection-sync:" + collectionID
}
