package web

// ListingResponse is one page of a paginated JSON document listing.
type ListingResponse struct {
	PageInfo PageInfo      `json:"pageInfo"`
	Content  []ListingItem `json:"content"`
}

type PageInfo struct {
	Page       int `json:"page"`
	NumPages   int `json:"numPages"`
	PageSize   int `json:"pageSize"`
	NumEntries int `json:"numEntries"`
}

type ListingItem struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Category string `json:"category"`
}
