package setting

type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type SettingsResponse struct {
	Settings []Entry `json:"settings"`
}

type UpdateSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

type MonitorStatus struct {
	Alive         bool  `json:"alive"`
	LastHeartbeat int64 `json:"lastHeartbeat"`
	LastPayment   int64 `json:"lastPayment"`
}

func (m MonitorStatus) normalize(s Snapshot) MonitorStatus {
	if s.LastHeartbeat.IsZero() {
		m.LastHeartbeat = 0
	}
	if s.LastPayment.IsZero() {
		m.LastPayment = 0
	}
	return m
}
