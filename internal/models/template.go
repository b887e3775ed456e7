package models

// Template 通知模板（标题+正文）
// 名称以 "_base" 结尾的模板只有正文，供其他模板继承
type Template struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
