package models

import (
	"time"

	"gorm.io/datatypes"
)

// Website is a customer site that receives generated posts.
type Website struct {
	ID                   string `gorm:"primaryKey;size:36"`
	OrganizationID       string `gorm:"size:36;not null;index"`
	Name                 string `gorm:"size:128"`
	Domain               string `gorm:"size:255"`
	BaseURL              string `gorm:"size:255"`
	Active               bool
	AutoPublish          bool
	Timezone             string `gorm:"size:64;default:UTC"`
	PublishDays          string `gorm:"size:64"`
	PublishHourStart     int    `gorm:"default:0"`
	PublishHourEnd       int    `gorm:"default:24"`
	MaxAutoPostsPerDay   int    `gorm:"default:1"`
	DefaultContentLength string `gorm:"size:16;default:medium"`
	IncludeImages        bool
	IncludeFAQ           bool
	PublishConfig        datatypes.JSONType[PublishConfig] `gorm:"type:json"`
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Organization Organization `gorm:"foreignKey:OrganizationID"`
}

// PublishConfig lists the channels a website distributes posts to. A nil or
// empty entry means the channel is not configured.
type PublishConfig struct {
	IndexNow  *IndexNowTarget   `json:"indexNow,omitempty"`
	Webhook   *WebhookTarget    `json:"webhook,omitempty"`
	X         *SocialTarget     `json:"x,omitempty"`
	LinkedIn  *SocialTarget     `json:"linkedin,omitempty"`
	Slack     *ChatTarget       `json:"slack,omitempty"`
	Discord   *ChatTarget       `json:"discord,omitempty"`
	WordPress []WordPressTarget `json:"wordpress,omitempty"`
	GitHub    []GitHubTarget    `json:"github,omitempty"`
}

// IndexNowTarget pings an IndexNow endpoint so search engines recrawl the post.
type IndexNowTarget struct {
	Key         string `json:"key"`
	KeyLocation string `json:"keyLocation,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// WebhookTarget posts a signed JSON payload to a customer URL.
type WebhookTarget struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// SocialTarget shares the post on a social network. Social posts go out only
// for automatic publishes unless PostOnManual is set.
type SocialTarget struct {
	AccessToken  string `json:"accessToken"`
	AuthorURN    string `json:"authorUrn,omitempty"`
	Template     string `json:"template,omitempty"`
	PostOnManual bool   `json:"postOnManual,omitempty"`
}

// ChatTarget announces the post in a team chat channel.
type ChatTarget struct {
	BotToken  string `json:"botToken"`
	ChannelID string `json:"channelId"`
}

// WordPressTarget pushes the post to a WordPress site over its REST API.
type WordPressTarget struct {
	Name        string `json:"name,omitempty"`
	SiteURL     string `json:"siteUrl"`
	Username    string `json:"username"`
	AppPassword string `json:"appPassword"`
	Status      string `json:"status,omitempty"`
}

// GitHubTarget commits the post as a markdown file to a static-site repo.
type GitHubTarget struct {
	Name   string `json:"name,omitempty"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
	Token  string `json:"token"`
}
