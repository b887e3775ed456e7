package adapters

import (
	"context"
	"strings"
	"sync"
)

// 进程内假实现：测试和未配置真实后端时的默认接线都用它们

// FakeDirectory 内存目录服务
type FakeDirectory struct {
	mu       sync.Mutex
	Devices  map[string]*DirectoryDevice // key: directory_id
	Disabled map[string]bool
	Groups   map[string][]string // key: group email
	Users    map[string]string   // key: email, value: given name
	OrgUnits map[string]bool     // key: org unit path
	Err      error               // 非空时所有调用返回该错误
}

// NewFakeDirectory 创建内存目录服务
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		Devices:  make(map[string]*DirectoryDevice),
		Disabled: make(map[string]bool),
		Groups:   make(map[string][]string),
		Users:    make(map[string]string),
		OrgUnits: make(map[string]bool),
	}
}

func (f *FakeDirectory) GetDeviceBySerial(ctx context.Context, serial string) (*DirectoryDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, d := range f.Devices {
		if d.SerialNumber == serial {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeDirectory) GetDevice(ctx context.Context, directoryID string) (*DirectoryDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	d, ok := f.Devices[directoryID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *FakeDirectory) MoveDeviceOU(ctx context.Context, directoryID, orgUnitPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	d, ok := f.Devices[directoryID]
	if !ok {
		return ErrNotFound
	}
	d.OrgUnitPath = orgUnitPath
	return nil
}

func (f *FakeDirectory) DisableDevice(ctx context.Context, directoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.Devices[directoryID]; !ok {
		return ErrNotFound
	}
	if f.Disabled[directoryID] {
		return ErrAlreadyDisabled
	}
	f.Disabled[directoryID] = true
	return nil
}

func (f *FakeDirectory) ReenableDevice(ctx context.Context, directoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.Devices[directoryID]; !ok {
		return ErrNotFound
	}
	delete(f.Disabled, directoryID)
	return nil
}

func (f *FakeDirectory) ListGroupMembers(ctx context.Context, group string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	members, ok := f.Groups[group]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

func (f *FakeDirectory) GetUserGivenName(ctx context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	name, ok := f.Users[email]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (f *FakeDirectory) InsertOrgUnit(ctx context.Context, orgUnitPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.OrgUnits[orgUnitPath] = true
	return nil
}

func (f *FakeDirectory) GetOrgUnit(ctx context.Context, orgUnitPath string) (*OrgUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if !f.OrgUnits[orgUnitPath] {
		return nil, ErrNotFound
	}
	name := orgUnitPath
	if idx := strings.LastIndex(orgUnitPath, "/"); idx >= 0 {
		name = orgUnitPath[idx+1:]
	}
	return &OrgUnit{OrgUnitPath: orgUnitPath, Name: name}, nil
}

// SentMail 假邮件服务记录的一封邮件
type SentMail struct {
	To    []string
	Title string
	Body  string
}

// FakeEmail 内存邮件服务，按发送顺序记录
type FakeEmail struct {
	mu   sync.Mutex
	Sent []SentMail
	Err  error
}

// NewFakeEmail 创建内存邮件服务
func NewFakeEmail() *FakeEmail {
	return &FakeEmail{}
}

func (f *FakeEmail) Send(ctx context.Context, to []string, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, SentMail{To: append([]string{}, to...), Title: title, Body: body})
	return nil
}

// FakeWarehouse 内存仓库，按 InsertID 去重
type FakeWarehouse struct {
	mu     sync.Mutex
	Tables map[string][]WarehouseRow
	seen   map[string]bool
	Err    error
}

// NewFakeWarehouse 创建内存仓库
func NewFakeWarehouse() *FakeWarehouse {
	return &FakeWarehouse{
		Tables: make(map[string][]WarehouseRow),
		seen:   make(map[string]bool),
	}
}

func (f *FakeWarehouse) StreamRows(ctx context.Context, table string, rows []WarehouseRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, row := range rows {
		if f.seen[row.InsertID] {
			return ErrDuplicateRows
		}
	}
	for _, row := range rows {
		f.seen[row.InsertID] = true
		f.Tables[table] = append(f.Tables[table], row)
	}
	return nil
}

// RowCount 表中已写入的行数
func (f *FakeWarehouse) RowCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Tables[table])
}
