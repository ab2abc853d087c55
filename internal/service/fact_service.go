package service

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"go.yaml.in/yaml/v3"
	"gorm.io/gorm"
)

//go:embed templates.yaml
var templatesYAML []byte

// DefaultFactCooldown 事实公开前的默认冷却期
const DefaultFactCooldown = 168 * time.Hour

// FactTemplate 事实模板定义
type FactTemplate struct {
	ID           string   `yaml:"id" json:"id"`
	SubjectTypes []string `yaml:"subject_types" json:"subject_types"`
	Label        string   `yaml:"label" json:"label"`
	Format       string   `yaml:"format" json:"format"`
	Fields       []string `yaml:"fields" json:"fields"`
}

// AppliesTo 判断模板是否适用于某主体类型（用户为 "user"，页面为其 kind）
func (t *FactTemplate) AppliesTo(subjectType string) bool {
	return slices.Contains(t.SubjectTypes, subjectType)
}

func loadTemplates() ([]FactTemplate, map[string]*FactTemplate) {
	var doc struct {
		Templates []FactTemplate `yaml:"templates"`
	}
	if err := yaml.Unmarshal(templatesYAML, &doc); err != nil {
		panic(fmt.Sprintf("解析内置模板目录失败: %v", err))
	}
	index := make(map[string]*FactTemplate, len(doc.Templates))
	for i := range doc.Templates {
		index[doc.Templates[i].ID] = &doc.Templates[i]
	}
	return doc.Templates, index
}

// FactService 事实引擎：模板渲染、冷却/批准/否决状态机、同行投票与可见性判定
type FactService struct {
	db        *gorm.DB
	users     *repository.UserRepository
	pages     *repository.PageRepository
	conns     *repository.ConnectionRepository
	facts     *repository.FactRepository
	cooldown  time.Duration
	catalog   []FactTemplate
	templates map[string]*FactTemplate
	now       func() time.Time
}

// NewFactService 创建事实引擎，cooldown <= 0 时使用默认值
func NewFactService(db *gorm.DB, users *repository.UserRepository, pages *repository.PageRepository, conns *repository.ConnectionRepository, facts *repository.FactRepository, cooldown time.Duration) *FactService {
	if cooldown <= 0 {
		cooldown = DefaultFactCooldown
	}
	catalog, index := loadTemplates()
	return &FactService{
		db:        db,
		users:     users,
		pages:     pages,
		conns:     conns,
		facts:     facts,
		cooldown:  cooldown,
		catalog:   catalog,
		templates: index,
		now:       time.Now,
	}
}

// Templates 返回模板目录，subjectType 非空时按适用主体过滤
func (s *FactService) Templates(subjectType string) []FactTemplate {
	if subjectType == "" {
		return s.catalog
	}
	result := make([]FactTemplate, 0, len(s.catalog))
	for _, t := range s.catalog {
		if t.AppliesTo(subjectType) {
			result = append(result, t)
		}
	}
	return result
}

// FactCreateInput 创建事实的请求
type FactCreateInput struct {
	TemplateID        string `json:"template_id"`
	SubjectUserHandle string `json:"subject_user_handle"`
	SubjectPageHandle string `json:"subject_page_handle"`
	FromDate          string `json:"from_date"`
	ToDate            string `json:"to_date"`
	Year              string `json:"year"`
	PageHandle        string `json:"page_handle"` // reported_to / managed 引用的页面
	Content           string `json:"content"`     // freeform 专用
}

// FactView 事实的 API 视图
type FactView struct {
	ID           int64          `json:"id"`
	Author       UserSummary    `json:"author"`
	TemplateID   string         `json:"template_id"`
	Content      string         `json:"content"`
	Mentions     schema.JSONMap `json:"mentions"`
	SubjectUser  *int64         `json:"subject_user_id"`
	SubjectPage  *int64         `json:"subject_page_id"`
	VoteSum      int            `json:"vote_sum"`
	VoteCount    int            `json:"vote_count"`
	Average      float64        `json:"average"`
	DisplayLevel int            `json:"display_level"`
	IsPublic     bool           `json:"is_public"`
	IsVetoed     bool           `json:"is_vetoed"`
	PublicAt     time.Time      `json:"public_at"`
	CreatedAt    time.Time      `json:"created_at"`
	ViewerVote   *int           `json:"viewer_vote,omitempty"`
}

func (s *FactService) view(fact *schema.Fact, author *schema.User, viewerVote *int) FactView {
	average := 0.0
	if fact.VoteCount > 0 {
		average = float64(fact.VoteSum) / float64(fact.VoteCount)
	}
	return FactView{
		ID:           fact.ID,
		Author:       summarize(author),
		TemplateID:   fact.TemplateID,
		Content:      fact.Content,
		Mentions:     fact.Mentions,
		SubjectUser:  fact.SubjectUserID,
		SubjectPage:  fact.SubjectPageID,
		VoteSum:      fact.VoteSum,
		VoteCount:    fact.VoteCount,
		Average:      average,
		DisplayLevel: int(math.Round(average)),
		IsPublic:     fact.IsPublic(s.now()),
		IsVetoed:     fact.VetoedAt != nil,
		PublicAt:     fact.PublicAt,
		CreatedAt:    fact.CreatedAt,
		ViewerVote:   viewerVote,
	}
}

// Create 创建事实。用户主体要求作者与其已确认连接且非本人；
// 页面主体要求作者关注该页面或是其编辑；作者是主体页面编辑时自动批准。
func (s *FactService) Create(ctx context.Context, authorID int64, input FactCreateInput) (*schema.Fact, error) {
	tmpl, ok := s.templates[input.TemplateID]
	if !ok {
		return nil, Invalid("未知的事实模板")
	}

	var (
		subjectUserID *int64
		subjectPageID *int64
		subjectHandle string
		subjectName   string
		subjectType   string
	)

	switch {
	case input.SubjectUserHandle != "":
		if !tmpl.AppliesTo("user") {
			return nil, Invalid("该模板不适用于用户主体")
		}
		subject, err := s.users.GetByHandle(ctx, input.SubjectUserHandle)
		if err != nil {
			return nil, err
		}
		if subject == nil {
			return nil, NotFound("主体用户不存在")
		}
		if subject.ID == authorID {
			return nil, Invalid("不能创建关于自己的事实")
		}
		connected, err := s.conns.ConfirmedExists(ctx, authorID, subject.ID)
		if err != nil {
			return nil, err
		}
		if !connected {
			return nil, Forbidden("只能为已确认连接的用户创建事实")
		}
		subjectUserID = &subject.ID
		subjectHandle = subject.Handle
		subjectName = subject.DisplayName()
		subjectType = "user"

	case input.SubjectPageHandle != "":
		page, err := s.pages.GetByHandle(ctx, input.SubjectPageHandle)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, NotFound("主体页面不存在")
		}
		if !tmpl.AppliesTo(page.Kind) {
			return nil, Invalid(fmt.Sprintf("该模板不适用于 %s 页面", page.Kind))
		}
		isEditor, err := s.pages.IsEditor(ctx, page.ID, authorID)
		if err != nil {
			return nil, err
		}
		if !isEditor {
			follows, err := s.pages.IsFollower(ctx, page.ID, authorID)
			if err != nil {
				return nil, err
			}
			if !follows {
				return nil, Forbidden("只有页面关注者或编辑才能为页面创建事实")
			}
		}
		subjectPageID = &page.ID
		subjectHandle = page.Handle
		subjectName = page.Name
		subjectType = "page"

	default:
		return nil, Invalid("必须指定主体用户或主体页面")
	}

	if input.TemplateID == "freeform" {
		content := strings.TrimSpace(input.Content)
		if len(content) < 1 || len(content) > 500 {
			return nil, Invalid("自定义内容长度需在 1-500 字符之间")
		}
		input.Content = content
	}

	content, mentions, err := s.render(ctx, tmpl, input, subjectHandle, subjectName, subjectType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fact := &schema.Fact{
		AuthorID:      authorID,
		SubjectUserID: subjectUserID,
		SubjectPageID: subjectPageID,
		TemplateID:    input.TemplateID,
		Content:       content,
		Mentions:      mentions,
		PublicAt:      now.Add(s.cooldown),
	}

	if subjectPageID != nil {
		isEditor, err := s.pages.IsEditor(ctx, *subjectPageID, authorID)
		if err != nil {
			return nil, err
		}
		if isEditor {
			fact.ApprovedAt = &now
		}
	}

	if err := s.facts.Create(ctx, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// render 渲染模板内容并收集 mentions（handle -> {type, name}）
func (s *FactService) render(ctx context.Context, tmpl *FactTemplate, input FactCreateInput, subjectHandle, subjectName, subjectType string) (string, schema.JSONMap, error) {
	mentions := schema.JSONMap{}
	if tmpl.ID == "freeform" {
		return input.Content, mentions, nil
	}

	result := tmpl.Format
	if strings.Contains(result, "{subject}") {
		result = strings.ReplaceAll(result, "{subject}", subjectName)
		mentions[subjectHandle] = map[string]any{"type": subjectType, "name": subjectName}
	}

	if input.FromDate != "" {
		result = strings.ReplaceAll(result, "{from_date}", input.FromDate)
	}
	if input.ToDate != "" {
		result = strings.ReplaceAll(result, "{to_date}", input.ToDate)
	}
	if input.Year != "" {
		result = strings.ReplaceAll(result, "{year}", input.Year)
	}

	if input.PageHandle != "" && strings.Contains(result, "{page}") {
		page, err := s.pages.GetByHandle(ctx, input.PageHandle)
		if err != nil {
			return "", nil, err
		}
		if page != nil {
			result = strings.ReplaceAll(result, "{page}", page.Name)
			mentions[page.Handle] = map[string]any{"type": "page", "name": page.Name}
		}
	}
	return result, mentions, nil
}

// CanView 事实可见性判定。被否决：仅作者与主体（或主体页编辑）可见；
// 冷却中未批准：同上；已公开：作者、主体及作者的已确认连接可见。
func (s *FactService) CanView(ctx context.Context, viewerID int64, fact *schema.Fact) (bool, error) {
	isAuthorOrSubject := func() (bool, error) {
		if viewerID == 0 {
			return false, nil
		}
		if fact.AuthorID == viewerID {
			return true, nil
		}
		if fact.SubjectUserID != nil && *fact.SubjectUserID == viewerID {
			return true, nil
		}
		if fact.SubjectPageID != nil {
			return s.pages.IsEditor(ctx, *fact.SubjectPageID, viewerID)
		}
		return false, nil
	}

	if fact.VetoedAt != nil || !fact.IsPublic(s.now()) {
		return isAuthorOrSubject()
	}

	if viewerID == 0 {
		return false, nil
	}
	if ok, err := isAuthorOrSubject(); err != nil || ok {
		return ok, err
	}
	return s.conns.ConfirmedExists(ctx, viewerID, fact.AuthorID)
}

// ListByAuthor 列出某作者的事实，按观察者可见性过滤
func (s *FactService) ListByAuthor(ctx context.Context, viewerID int64, authorHandle string) ([]FactView, error) {
	author, err := s.users.GetByHandle(ctx, authorHandle)
	if err != nil {
		return nil, err
	}
	if author == nil {
		return nil, NotFound("用户不存在")
	}

	facts, err := s.facts.ListByAuthor(ctx, author.ID)
	if err != nil {
		return nil, err
	}
	return s.visibleViews(ctx, viewerID, facts)
}

// ListAboutUser 列出以某用户为主体的事实，按观察者可见性过滤
func (s *FactService) ListAboutUser(ctx context.Context, viewerID int64, handle string) ([]FactView, error) {
	subject, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, NotFound("用户不存在")
	}

	facts, err := s.facts.ListAboutUser(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	return s.visibleViews(ctx, viewerID, facts)
}

// ListAboutPage 列出以某页面为主体的事实，按观察者可见性过滤
func (s *FactService) ListAboutPage(ctx context.Context, viewerID int64, pageHandle string) ([]FactView, error) {
	page, err := s.pages.GetByHandle(ctx, pageHandle)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, NotFound("页面不存在")
	}

	facts, err := s.facts.ListAboutPage(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	return s.visibleViews(ctx, viewerID, facts)
}

// visibleViews 过滤出观察者可见的事实并装配视图
func (s *FactService) visibleViews(ctx context.Context, viewerID int64, facts []schema.Fact) ([]FactView, error) {
	visible := facts[:0]
	for i := range facts {
		ok, err := s.CanView(ctx, viewerID, &facts[i])
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, facts[i])
		}
	}

	authorIDs := make([]int64, 0, len(visible))
	for i := range visible {
		authorIDs = append(authorIDs, visible[i].AuthorID)
	}
	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]FactView, 0, len(visible))
	for i := range visible {
		var viewerVote *int
		if viewerID != 0 {
			vote, err := s.facts.GetVote(ctx, visible[i].ID, viewerID)
			if err != nil {
				return nil, err
			}
			if vote != nil {
				viewerVote = &vote.Value
			}
		}
		views = append(views, s.view(&visible[i], authors[visible[i].AuthorID], viewerVote))
	}
	return views, nil
}

// PendingVeto 列出关于当前用户（或其编辑的页面）、尚未否决、非本人所写的事实
func (s *FactService) PendingVeto(ctx context.Context, userID int64) ([]FactView, error) {
	facts, err := s.listVetoable(ctx, userID)
	if err != nil {
		return nil, err
	}

	authorIDs := make([]int64, 0, len(facts))
	for i := range facts {
		authorIDs = append(authorIDs, facts[i].AuthorID)
	}
	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]FactView, 0, len(facts))
	for i := range facts {
		views = append(views, s.view(&facts[i], authors[facts[i].AuthorID], nil))
	}
	return views, nil
}

// PendingVetoCount 可否决事实的数量，导航栏角标用
func (s *FactService) PendingVetoCount(ctx context.Context, userID int64) (int64, error) {
	facts, err := s.listVetoable(ctx, userID)
	if err != nil {
		return 0, err
	}
	return int64(len(facts)), nil
}

func (s *FactService) listVetoable(ctx context.Context, userID int64) ([]schema.Fact, error) {
	var pageIDs []int64
	err := s.db.WithContext(ctx).Model(&schema.PageEditor{}).
		Where("user_id = ?", userID).
		Pluck("page_id", &pageIDs).Error
	if err != nil {
		return nil, fmt.Errorf("查询编辑页面失败: %w", err)
	}

	q := s.db.WithContext(ctx).Model(&schema.Fact{}).
		Where("vetoed_at IS NULL AND author_id != ?", userID)
	if len(pageIDs) > 0 {
		q = q.Where("subject_user_id = ? OR subject_page_id IN ?", userID, pageIDs)
	} else {
		q = q.Where("subject_user_id = ?", userID)
	}

	var facts []schema.Fact
	if err := q.Order("created_at DESC").Find(&facts).Error; err != nil {
		return nil, fmt.Errorf("查询可否决事实失败: %w", err)
	}
	return facts, nil
}

// DeleteOrVeto 作者删除，主体（用户或页面编辑）否决
func (s *FactService) DeleteOrVeto(ctx context.Context, userID, factID int64) (vetoed bool, err error) {
	fact, err := s.facts.GetByID(ctx, factID)
	if err != nil {
		return false, err
	}
	if fact == nil {
		return false, NotFound("事实不存在")
	}

	if fact.AuthorID == userID {
		return false, s.facts.Delete(ctx, factID)
	}

	canVeto := fact.SubjectUserID != nil && *fact.SubjectUserID == userID
	if !canVeto && fact.SubjectPageID != nil {
		canVeto, err = s.pages.IsEditor(ctx, *fact.SubjectPageID, userID)
		if err != nil {
			return false, err
		}
	}
	if !canVeto {
		return false, Forbidden("无权删除或否决该事实")
	}

	now := s.now()
	fact.VetoedAt = &now
	return true, s.facts.Save(ctx, fact)
}

// Approve 主体提前批准事实，立即公开。已否决的不能批准，重复批准幂等。
func (s *FactService) Approve(ctx context.Context, userID, factID int64) error {
	fact, err := s.facts.GetByID(ctx, factID)
	if err != nil {
		return err
	}
	if fact == nil {
		return NotFound("事实不存在")
	}
	if fact.VetoedAt != nil {
		return Conflict("已否决的事实不能批准")
	}
	if fact.ApprovedAt != nil {
		return nil
	}

	canApprove := fact.SubjectUserID != nil && *fact.SubjectUserID == userID
	if !canApprove && fact.SubjectPageID != nil {
		canApprove, err = s.pages.IsEditor(ctx, *fact.SubjectPageID, userID)
		if err != nil {
			return err
		}
	}
	if !canApprove {
		return Forbidden("只有主体可以批准事实")
	}

	now := s.now()
	fact.ApprovedAt = &now
	return s.facts.Save(ctx, fact)
}

// Vote 对事实评分 [-3, 3]。要求非作者、可见、且与作者已确认连接；
// 同值重复视为撤销。缓存列在同一事务里全量重算。
func (s *FactService) Vote(ctx context.Context, userID, factID int64, value int) error {
	if value < -3 || value > 3 {
		return Invalid("事实评分取值范围为 -3 到 3")
	}

	fact, err := s.facts.GetByID(ctx, factID)
	if err != nil {
		return err
	}
	if fact == nil {
		return NotFound("事实不存在")
	}
	if fact.AuthorID == userID {
		return Invalid("不能给自己的事实评分")
	}

	visible, err := s.CanView(ctx, userID, fact)
	if err != nil {
		return err
	}
	if !visible {
		return Forbidden("无权为该事实评分")
	}
	connected, err := s.conns.ConfirmedExists(ctx, userID, fact.AuthorID)
	if err != nil {
		return err
	}
	if !connected {
		return Forbidden("只有作者的连接才能评分")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		facts := s.facts.WithTx(tx)

		existing, err := facts.GetVote(ctx, factID, userID)
		if err != nil {
			return err
		}
		switch {
		case existing != nil && existing.Value == value:
			if err := facts.DeleteVote(ctx, factID, userID); err != nil {
				return err
			}
		case existing != nil:
			existing.Value = value
			if err := facts.SaveVote(ctx, existing); err != nil {
				return err
			}
		default:
			vote := &schema.FactVote{FactID: factID, UserID: userID, Value: value}
			if err := facts.SaveVote(ctx, vote); err != nil {
				return err
			}
		}
		return facts.RecomputeVoteAggregates(ctx, factID)
	})
}

// RemoveVote 撤销评分并重算缓存列
func (s *FactService) RemoveVote(ctx context.Context, userID, factID int64) error {
	fact, err := s.facts.GetByID(ctx, factID)
	if err != nil {
		return err
	}
	if fact == nil {
		return NotFound("事实不存在")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		facts := s.facts.WithTx(tx)
		if err := facts.DeleteVote(ctx, factID, userID); err != nil {
			return err
		}
		return facts.RecomputeVoteAggregates(ctx, factID)
	})
}
