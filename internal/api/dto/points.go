package dto

// PointsRequest is the body of POST /v1/api/points.
type PointsRequest struct {
	DownloadSpeed float64 `json:"download_speed"`
	UploadSpeed   float64 `json:"upload_speed"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Timestamp     string  `json:"timestamp"`
	BaseReward    int     `json:"base_reward"`
	Multiplier    int     `json:"multiplier"`
	Reward        int     `json:"reward"`
}

type PointsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
