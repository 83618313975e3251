// Package server exposes the mutation API over gin and the realtime
// websocket endpoint. Handlers stay thin: parse, call the fan-out engine,
// map the error taxonomy to status codes. The public wire format is
// intentionally minimal; richer serialization lives outside this engine.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/riverd/broadcast"
	"github.com/candorhq/riverd/fanout"
	"github.com/candorhq/riverd/store"
)

type API struct {
	engine   *fanout.Engine
	registry *broadcast.Registry
}

func NewAPI(engine *fanout.Engine, registry *broadcast.Registry) *API {
	return &API{engine: engine, registry: registry}
}

// Register binds all routes. Routes under authed require the JWT
// middleware to have set the "sub" header.
func (a *API) Register(authed gin.IRoutes, public gin.IRoutes) {
	authed.POST("/v1/posts", a.createPost)
	authed.PATCH("/v1/posts/:postId", a.updatePost)
	authed.DELETE("/v1/posts/:postId", a.destroyPost)
	authed.POST("/v1/posts/:postId/comments", a.addComment)
	authed.POST("/v1/posts/:postId/like", a.addLike)
	authed.DELETE("/v1/posts/:postId/like", a.removeLike)
	authed.POST("/v1/posts/:postId/hide", a.hidePost)
	authed.POST("/v1/posts/:postId/unhide", a.unhidePost)
	authed.PATCH("/v1/comments/:commentId", a.updateComment)
	authed.DELETE("/v1/comments/:commentId", a.destroyComment)
	authed.POST("/v1/comments/:commentId/like", a.addCommentLike)
	authed.DELETE("/v1/comments/:commentId/like", a.removeCommentLike)
	authed.POST("/v1/feeds/:feedId/subscription", a.subscribe)
	authed.DELETE("/v1/feeds/:feedId/subscription", a.unsubscribe)
	authed.POST("/v1/bans/:userId", a.ban)
	authed.DELETE("/v1/bans/:userId", a.unban)

	public.GET("/v1/ws", a.serveWS)
}

// writeError maps the error taxonomy onto status codes: domain errors fail
// fast with a 4xx, storage errors report 503 so clients know to retry.
func writeError(c *gin.Context, err error) {
	if de, ok := fanout.IsDomainError(err); ok {
		status := http.StatusForbidden
		switch de.Code {
		case fanout.CodeAlreadyExists:
			status = http.StatusConflict
		case fanout.CodeNotFound:
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"code": string(de.Code), "msg": de.Msg})
		return
	}
	if store.IsStorageError(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "storage_failure", "msg": "temporary storage failure, retry later"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"msg": err.Error()})
}

func actingUser(c *gin.Context) string {
	return c.Request.Header.Get("sub")
}

type createPostInput struct {
	Body               string  `json:"body" binding:"required"`
	DestinationFeedIDs []int64 `json:"destinationFeedIds" binding:"required"`
	CommentsDisabled   bool    `json:"commentsDisabled"`
}

func (a *API) createPost(c *gin.Context) {
	var input createPostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	post, err := a.engine.CreatePost(c.Request.Context(), actingUser(c), input.Body, input.DestinationFeedIDs, input.CommentsDisabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": post.Id, "feedIds": post.FeedIDs})
}

type updatePostInput struct {
	Body             string `json:"body" binding:"required"`
	CommentsDisabled bool   `json:"commentsDisabled"`
}

func (a *API) updatePost(c *gin.Context) {
	var input updatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	if err := a.engine.UpdatePost(c.Request.Context(), c.Param("postId"), actingUser(c), input.Body, input.CommentsDisabled); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) destroyPost(c *gin.Context) {
	if err := a.engine.DestroyPost(c.Request.Context(), c.Param("postId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commentInput struct {
	Body string `json:"body" binding:"required"`
}

func (a *API) addComment(c *gin.Context) {
	var input commentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	comment, err := a.engine.AddComment(c.Request.Context(), c.Param("postId"), actingUser(c), input.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": comment.Id})
}

func (a *API) updateComment(c *gin.Context) {
	var input commentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	if err := a.engine.UpdateComment(c.Request.Context(), c.Param("commentId"), actingUser(c), input.Body); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) destroyComment(c *gin.Context) {
	if err := a.engine.DestroyComment(c.Request.Context(), c.Param("commentId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) addLike(c *gin.Context) {
	if err := a.engine.AddLike(c.Request.Context(), c.Param("postId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) removeLike(c *gin.Context) {
	if err := a.engine.RemoveLike(c.Request.Context(), c.Param("postId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) addCommentLike(c *gin.Context) {
	if err := a.engine.AddCommentLike(c.Request.Context(), c.Param("commentId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) removeCommentLike(c *gin.Context) {
	if err := a.engine.RemoveCommentLike(c.Request.Context(), c.Param("commentId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) hidePost(c *gin.Context) {
	if err := a.engine.HidePost(c.Request.Context(), c.Param("postId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) unhidePost(c *gin.Context) {
	if err := a.engine.UnhidePost(c.Request.Context(), c.Param("postId"), actingUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) subscribe(c *gin.Context) {
	feedID, err := strconv.ParseInt(c.Param("feedId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed feed id"})
		return
	}
	if err := a.engine.Subscribe(c.Request.Context(), actingUser(c), feedID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) unsubscribe(c *gin.Context) {
	feedID, err := strconv.ParseInt(c.Param("feedId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed feed id"})
		return
	}
	if err := a.engine.Unsubscribe(c.Request.Context(), actingUser(c), feedID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) ban(c *gin.Context) {
	if err := a.engine.Ban(c.Request.Context(), actingUser(c), c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) unban(c *gin.Context) {
	if err := a.engine.Unban(c.Request.Context(), actingUser(c), c.Param("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// serveWS upgrades to the realtime session protocol. The endpoint is public
// on purpose: anonymous sessions may subscribe to public rooms, identity is
// established in-band via the auth frame or the token query parameter.
func (a *API) serveWS(c *gin.Context) {
	broadcast.ServeWS(a.registry, c.Writer, c.Request)
}
