package apiclient

// Error はSerifu APIの非2xx応答を表すエラー。
// 呼び出し側がステータスやボディを検査できるよう応答を添付する。
type Error struct {
	Message  string
	Response *Response
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return e.Message
}

// StatusCode は添付された応答のHTTPステータスコードを返す。
// 応答がない場合は0を返す。
func (e *Error) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.Status
}
